// watch follows one channel's messages and its workspace's online users from the terminal.
// Set ACCESS_TOKEN (or pass -token); REALTIME_URL and REST_URL point at the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bizlinkone/backend/internal/config"
	"bizlinkone/backend/internal/i18n"
	"bizlinkone/backend/internal/localstore"
	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime/wsclient"
	"bizlinkone/backend/internal/watch"
)

func main() {
	workspaceID := flag.String("workspace", "", "Workspace id to watch")
	channelID := flag.String("channel", "", "Channel id to watch")
	token := flag.String("token", "", "Access token (defaults to ACCESS_TOKEN)")
	lang := flag.String("lang", "", "Switch the display language (e.g. en, ja) and remember it")
	retry := flag.Duration("retry", 0, "Re-open failed subscriptions on this period (0 disables)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		log.Fatalf("localstore: %v", err)
	}
	defer store.Close()
	strs, err := i18n.Load(store)
	if err != nil {
		log.Fatalf("i18n: %v", err)
	}
	if *lang != "" {
		if err := strs.SetLanguage(*lang); err != nil {
			log.Fatalf("i18n: %v (available: %v)", err, strs.Languages())
		}
		fmt.Println(strs.T(i18n.KeyLanguageChanged, i18n.Params{"language": strs.T(i18n.KeyLanguageName, nil)}))
	}

	if *workspaceID == "" || *channelID == "" {
		if *lang != "" {
			return
		}
		fmt.Fprintln(os.Stderr, "usage: watch -workspace <id> -channel <id> [-token <jwt>] [-lang en|ja]")
		os.Exit(2)
	}
	if *token == "" {
		*token = cfg.AccessToken
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, strs.T(i18n.KeyAuthLoginRequired, nil))
		os.Exit(1)
	}
	self, err := watch.IdentityFromToken(*token)
	if err != nil {
		log.Fatalf("%s: %v", strs.T(i18n.KeyAuthLoginTitle, nil), err)
	}

	cache, err := querycache.New(cfg.QueryCacheSize)
	if err != nil {
		log.Fatalf("querycache: %v", err)
	}
	rest, err := watch.NewRestClient(cfg.RestURL, *token, nil)
	if err != nil {
		log.Fatalf("rest: %v", err)
	}
	client := wsclient.New(cfg.RealtimeURL,
		wsclient.WithAccessToken(*token),
		wsclient.WithJoinTimeout(cfg.JoinTimeout()),
		wsclient.WithHeartbeatInterval(cfg.HeartbeatInterval()),
	)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watch.New(watch.Deps{
		Transport: client,
		Cache:     cache,
		Messages:  rest,
		Strings:   strs,
		Out:       os.Stdout,
	}, watch.Config{
		WorkspaceID:   *workspaceID,
		ChannelID:     *channelID,
		Self:          self,
		RetryInterval: *retry,
	})
	if err := w.Run(ctx); err != nil {
		log.Fatalf("watch: %v", err)
	}
}
