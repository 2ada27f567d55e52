package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/park285/solid-chess/internal/inbox"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/vocab"
)

func main() {
	webID := os.Getenv("WEBID")
	wsURL := os.Getenv("POD_WS_URL")
	token := os.Getenv("POD_TOKEN")

	if webID == "" {
		log.Fatal("WEBID is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if token != "" {
			m["Authorization"] = "Bearer " + token
		}
		return m
	}

	store := pod.NewHTTPStore(
		pod.WithHeaderProvider(headers),
		pod.WithTimeout(8*time.Second),
	)
	dir := pod.NewDirectory(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	box, err := dir.InboxOf(ctx, webID)
	if err != nil {
		log.Printf("profile error: %v", err)
		return
	}
	log.Printf("profile ok: name=%q inbox=%s", dir.DisplayName(ctx, webID), box)

	members, err := store.ListTyped(ctx, box, vocab.Resource)
	if err != nil {
		log.Printf("inbox error: %v", err)
	} else {
		log.Printf("inbox ok: %d pending", len(members))
	}

	if wsURL == "" {
		log.Println("POD_WS_URL not set; skipping notification check")
		return
	}

	w := inbox.NewWatcher(wsURL, []string{box}, 5)
	w.SetHeaderProvider(headers)
	w.OnStateChange(func(state inbox.WatchState) {
		log.Printf("watch state: %s", state)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := w.Connect(cctx); err != nil {
		log.Printf("watch connect error: %v", err)
		return
	}

	// observe for a short window
	t := time.NewTimer(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case coll := <-w.Nudges():
			log.Printf("changed: %s", coll)
		case <-t.C:
			_ = w.Close(context.Background())
			return
		}
	}
}
