// Command inboxctl is a small terminal client for an inbox feed: it
// fetches pages, lists cached notifications and flips read/deleted
// state from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync"
	"github.com/tmarcon/inboxsync/internal/credential"
	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "inboxctl:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// set-auth-key only touches the keyring, no inbox session needed.
	if args[0] == "set-auth-key" {
		if len(args) < 2 {
			return errors.New("usage: inboxctl set-auth-key <key>")
		}
		return credential.Set(credential.AuthKeyName, args[1])
	}

	if cfg.Inbox.BaseURL == "" {
		return fmt.Errorf("no inbox.base_url configured in %s", *configPath)
	}
	if cfg.Inbox.InstallationID == "" {
		cfg.Inbox.InstallationID = uuid.NewString()
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			return err
		}
	}

	log := zap.NewNop()
	if *verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	defer log.Sync()

	manager, err := inboxsync.Open(inboxsync.Options{
		BaseURL:      cfg.Inbox.BaseURL,
		DatabasePath: model.DefaultDatabasePath(),
		Logger:       log,
		Tracker:      logTracker{log: log},
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	fetcher, err := openFetcher(manager, cfg)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	fetcher.SetFilterSilentNotifications(!cfg.Display.ShowSilent)
	fetcher.SetMaxPageSize(cfg.Display.PageSize)
	fetcher.SetFetchLimit(cfg.Display.FetchLimit)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch args[0] {
	case "fetch":
		result, err := fetcher.FetchNewNotifications(ctx)
		if err != nil {
			return err
		}
		printNotifications(result.Added)
		if !result.FoundNew {
			fmt.Println("no new notifications")
		}
		return nil

	case "next":
		if _, err := fetcher.FetchNewNotifications(ctx); err != nil {
			return err
		}
		for {
			page, err := fetcher.FetchNextPage(ctx)
			if errors.Is(err, inboxsync.ErrEndReached) {
				break
			}
			if err != nil {
				return err
			}
			printNotifications(page.Added)
			if page.EndReached {
				break
			}
		}
		return nil

	case "read":
		if len(args) < 2 {
			return errors.New("usage: inboxctl read <notification-id>")
		}
		return withNotification(ctx, fetcher, args[1], func(n inboxsync.Notification) {
			fetcher.MarkAsRead(ctx, n)
		})

	case "delete":
		if len(args) < 2 {
			return errors.New("usage: inboxctl delete <notification-id>")
		}
		return withNotification(ctx, fetcher, args[1], func(n inboxsync.Notification) {
			fetcher.MarkAsDeleted(ctx, n)
		})

	case "read-all":
		if _, err := fetcher.FetchNewNotifications(ctx); err != nil {
			return err
		}
		fetcher.MarkAllAsRead(ctx)
		return nil

	case "purge":
		return manager.Wipe(ctx)

	case "watch":
		return watch(fetcher, log)

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// openFetcher opens a user-scoped session when a user identifier is
// configured, otherwise an installation-scoped one.
func openFetcher(manager *inboxsync.Manager, cfg *model.AppConfig) (*inboxsync.Fetcher, error) {
	if cfg.Inbox.UserIdentifier != "" {
		authKey, err := credential.Get(credential.AuthKeyName)
		if err != nil {
			return nil, fmt.Errorf("no authentication key stored, run inboxctl set-auth-key: %w", err)
		}
		return manager.FetcherForUser(cfg.Inbox.UserIdentifier, authKey), nil
	}
	return manager.FetcherForInstallation(cfg.Inbox.InstallationID), nil
}

// watch polls the feed until interrupted, printing notifications as they
// first appear.
func watch(fetcher *inboxsync.Fetcher, log *zap.Logger) error {
	seen := make(map[string]bool)

	poller := sync.New(func(ctx context.Context) (int, error) {
		result, err := fetcher.FetchNewNotifications(ctx)
		if err != nil {
			return 0, err
		}
		var fresh []inboxsync.Notification
		for _, n := range result.Added {
			if seen[n.Identifier()] {
				continue
			}
			seen[n.Identifier()] = true
			fresh = append(fresh, n)
		}
		printNotifications(fresh)
		return len(fresh), nil
	}, 30*time.Second, log)

	poller.Start()
	defer poller.Stop()

	for result := range poller.Results() {
		if result.Err != nil {
			fmt.Fprintln(os.Stderr, "inboxctl: refresh failed:", result.Err)
		}
	}
	return nil
}

// withNotification fetches the feed, locates the notification by id and
// runs op on it.
func withNotification(ctx context.Context, fetcher *inboxsync.Fetcher, id string, op func(inboxsync.Notification)) error {
	if _, err := fetcher.FetchNewNotifications(ctx); err != nil {
		return err
	}
	for _, n := range fetcher.Notifications() {
		if n.Identifier() == id {
			op(n)
			return nil
		}
	}
	return fmt.Errorf("no notification with id %q in the current feed", id)
}

func printNotifications(notifications []inboxsync.Notification) {
	for _, n := range notifications {
		marker := " "
		if n.Unread() {
			marker = "*"
		}
		fmt.Printf("%s %s  %-13s %s  %s\n",
			marker,
			n.Date().Format("2006-01-02 15:04"),
			n.Source(),
			n.Identifier(),
			n.Title())
		if body := n.Body(); body != "" {
			fmt.Printf("    %s\n", body)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: inboxctl [-config path] [-verbose] <command>

commands:
  fetch                 fetch the first page of the feed
  next                  fetch and print every remaining page
  read <id>             mark one notification as read
  read-all              mark every fetched notification as read
  delete <id>           delete one notification
  watch                 poll the feed and print notifications as they arrive
  purge                 wipe the local cache
  set-auth-key <key>    store the user-mode authentication key`)
}

// logTracker forwards tracking events to the structured log.
type logTracker struct {
	log *zap.Logger
}

func (t logTracker) Track(name string, data map[string]any) {
	t.log.Info("tracking event", zap.String("event", name), zap.Any("data", data))
}
