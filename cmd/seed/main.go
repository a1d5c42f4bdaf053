// seed inserts development sample data for local testing. Run via ./scripts/seed.sh.
// Idempotent: skips inserts if the dev workspace already exists. When JWT_PRIVATE_KEY is set it
// also prints access tokens for the dev users.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"bizlinkone/backend/internal/config"
	"bizlinkone/backend/internal/db"
	"bizlinkone/backend/internal/security"

	memberdomain "bizlinkone/backend/internal/membership/domain"
	membershiprepo "bizlinkone/backend/internal/membership/repository"
	msgdomain "bizlinkone/backend/internal/message/domain"
	msgrepo "bizlinkone/backend/internal/message/repository"
	wsdomain "bizlinkone/backend/internal/workspace/domain"
	wsrepo "bizlinkone/backend/internal/workspace/repository"
)

const (
	devWorkspaceID = "dev-ws-001"
	devChannelID   = "dev-ch-001"
	devRandomID    = "dev-ch-002"
	devUserID      = "dev-user-001"
	devUser2ID     = "dev-user-002"
)

var devMessages = []struct {
	userID string
	body   string
}{
	{devUserID, "Welcome to #general."},
	{devUser2ID, "Hi! Glad to be here."},
	{devUserID, "Edits and deletes show up live for everyone watching."},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	workspaces := wsrepo.NewPostgresRepository(conn)
	members := membershiprepo.NewPostgresRepository(conn)
	messages := msgrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := workspaces.GetWorkspaceByID(ctx, devWorkspaceID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devWorkspaceID)
		printTokens(cfg)
		os.Exit(0)
	}

	now := time.Now().UTC()

	if err := workspaces.CreateWorkspace(ctx, &wsdomain.Workspace{ID: devWorkspaceID, Name: "Acme Dev", CreatedAt: now}); err != nil {
		log.Fatalf("create workspace: %v", err)
	}
	for _, m := range []*memberdomain.Member{
		{WorkspaceID: devWorkspaceID, UserID: devUserID, DisplayName: "Dev User", Role: memberdomain.RoleOwner, JoinedAt: now},
		{WorkspaceID: devWorkspaceID, UserID: devUser2ID, DisplayName: "Member User", Role: memberdomain.RoleMember, JoinedAt: now},
	} {
		if err := members.AddMember(ctx, m); err != nil {
			log.Fatalf("add member %s: %v", m.UserID, err)
		}
	}
	for _, c := range []*wsdomain.Channel{
		{ID: devChannelID, WorkspaceID: devWorkspaceID, Name: "general", CreatedAt: now},
		{ID: devRandomID, WorkspaceID: devWorkspaceID, Name: "random", CreatedAt: now},
	} {
		if err := workspaces.CreateChannel(ctx, c); err != nil {
			log.Fatalf("create channel %s: %v", c.Name, err)
		}
	}
	for i, dm := range devMessages {
		at := now.Add(time.Duration(i) * time.Second)
		if err := messages.Create(ctx, &msgdomain.Message{
			ID:          uuid.NewString(),
			WorkspaceID: devWorkspaceID,
			ChannelID:   devChannelID,
			UserID:      dm.userID,
			Body:        dm.body,
			CreatedAt:   at,
			UpdatedAt:   at,
		}); err != nil {
			log.Fatalf("create message: %v", err)
		}
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Workspace: %s, channels: %s (general), %s (random)\n", devWorkspaceID, devChannelID, devRandomID)
	printTokens(cfg)
}

// printTokens issues dev access tokens when a signing key is configured.
func printTokens(cfg *config.Config) {
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		log.Println("JWT_PRIVATE_KEY not set; skipping dev tokens.")
		return
	}
	tokens, err := security.NewTokenProviderFromPEM(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, 24*time.Hour)
	if err != nil {
		log.Fatalf("security: %v", err)
	}
	for _, p := range []security.Principal{
		{UserID: devUserID, DisplayName: "Dev User"},
		{UserID: devUser2ID, DisplayName: "Member User"},
	} {
		tok, exp, err := tokens.IssueAccess(p)
		if err != nil {
			log.Fatalf("issue token for %s: %v", p.UserID, err)
		}
		fmt.Printf("%s token (expires %s):\n%s\n", p.UserID, exp.Format(time.RFC3339), tok)
	}
}
