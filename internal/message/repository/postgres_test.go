package repository

import (
	"context"
	"os"
	"testing"

	"bizlinkone/backend/internal/db"
	"bizlinkone/backend/internal/db/migrate"
	"bizlinkone/backend/internal/message/domain"
	workspacedomain "bizlinkone/backend/internal/workspace/domain"
	workspacerepo "bizlinkone/backend/internal/workspace/repository"
)

func TestPostgresRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	workspaces := workspacerepo.NewPostgresRepository(conn)
	ws := &workspacedomain.Workspace{Name: "repo-test"}
	if err := workspaces.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	ch := &workspacedomain.Channel{WorkspaceID: ws.ID, Name: "general"}
	if err := workspaces.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	repo := NewPostgresRepository(conn)
	m := &domain.Message{WorkspaceID: ws.ID, ChannelID: ch.ID, UserID: "u1", Body: "hello"}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.ID == "" {
		t.Fatal("Create did not set ID")
	}

	list, err := repo.ListByChannel(ctx, ws.ID, ch.ID, 10)
	if err != nil {
		t.Fatalf("ListByChannel: %v", err)
	}
	if len(list) != 1 || list[0].Body != "hello" {
		t.Fatalf("ListByChannel = %+v, want one message", list)
	}

	updated, err := repo.UpdateBody(ctx, m.ID, "edited")
	if err != nil {
		t.Fatalf("UpdateBody: %v", err)
	}
	if updated == nil || updated.Body != "edited" {
		t.Errorf("UpdateBody = %+v, want body edited", updated)
	}

	deleted, err := repo.Delete(ctx, m.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted == nil || deleted.ID != m.ID {
		t.Errorf("Delete = %+v, want %s", deleted, m.ID)
	}
	got, err := repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Errorf("GetByID after delete = %+v, want nil", got)
	}
	if missing, err := repo.Delete(ctx, m.ID); err != nil || missing != nil {
		t.Errorf("second Delete = (%v, %v), want (nil, nil)", missing, err)
	}
}
