// Canopy CLI - client for a remotely-hosted document tree with chat.
//
// Sub-commands:
//
//	canopy login               Sign in and persist the session
//	canopy logout              Clear the session locally and server-side
//	canopy status              Show identity and cache telemetry
//	canopy health              Wait for the backend to become ready
//	canopy ls [folder-id]      List the tree (optionally expand one folder)
//	canopy search <query>      Search the tree
//	canopy chat <message>      Ask a question over the active collection
//	canopy collections         List collections / switch the active one
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/verdantlabs/canopy/pkg/chat"
	"github.com/verdantlabs/canopy/pkg/config"
	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/models"
	"github.com/verdantlabs/canopy/pkg/session"
	"github.com/verdantlabs/canopy/pkg/telemetry"
	"github.com/verdantlabs/canopy/pkg/tree"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "logging init: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		cmdLogin(cfg, args)
	case "logout":
		cmdLogout(cfg, args)
	case "status":
		cmdStatus(cfg, args)
	case "health":
		cmdHealth(cfg, args)
	case "ls":
		cmdLs(cfg, args)
	case "search":
		cmdSearch(cfg, args)
	case "chat":
		cmdChat(cfg, args)
	case "collections":
		cmdCollections(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: canopy <login|logout|status|health|ls|search|chat|collections> [flags]")
}

// newGateway wires the session store and gateway from config, restoring any
// persisted session.
func newGateway(cfg *config.Config) (*session.Store, *gateway.Gateway) {
	store := session.NewStore(statePath(cfg, "session.json"))
	if err := store.Load(); err != nil {
		logging.Warn("could not load saved session", zap.Error(err))
	}

	g := gateway.New(gateway.Config{
		BaseURL:    cfg.BaseURL,
		HealthPath: cfg.HealthPath,
		Sessions:   store,
		Timeouts: gateway.Timeouts{
			Request: cfg.RequestTimeout,
			Health:  cfg.HealthTimeout,
			Batch:   cfg.BatchTimeout,
			Switch:  cfg.SwitchTimeout,
		},
	})
	g.OnSignOut(func() {
		fmt.Fprintln(os.Stderr, "Session expired. Run 'canopy login' to sign in again.")
	})
	return store, g
}

func statePath(cfg *config.Config, name string) string {
	if cfg.StateDir == "" {
		return ""
	}
	return cfg.StateDir + "/" + name
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// maybeServeMetrics exposes Prometheus metrics when an address is set.
func maybeServeMetrics(cfg *config.Config) {
	if cfg.MetricsAddr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logging.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()
}

func cmdLogin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	store, g := newGateway(cfg)

	redirectURL, err := g.LoginURL(ctx)
	if err != nil {
		fatal("could not reach the backend: %v", err)
	}
	fmt.Printf("\nTo sign in, open: %s\n", redirectURL)
	fmt.Println("After completing sign-in, paste the tokens shown by the provider.")

	accessToken := promptSecret("Access token: ")
	if accessToken == "" {
		fatal("no token provided")
	}
	refreshToken := promptSecret("Refresh token (optional): ")

	identity, err := g.Verify(ctx, accessToken)
	if err != nil {
		fatal("token verification failed: %v", err)
	}
	if identity.Name == "" && identity.Email == "" {
		// Backend omitted display fields; recover them from the token.
		if id, _, derr := session.IdentityFromToken(accessToken); derr == nil {
			identity = id
		}
	}

	store.Set(models.SessionToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Identity:     identity,
	})

	name := identity.Name
	if name == "" {
		name = identity.Email
	}
	fmt.Printf("Signed in as %s\n", name)
}

func cmdLogout(cfg *config.Config, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	store, g := newGateway(cfg)
	if err := g.Logout(ctx); err != nil {
		logging.Warn("server-side logout failed", zap.Error(err))
	}
	store.Clear()
	fmt.Println("Signed out.")
}

func cmdStatus(cfg *config.Config, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	store, g := newGateway(cfg)

	if token, ok := store.Get(); ok {
		id := token.Identity
		fmt.Printf("Signed in:  %s <%s>\n", id.Name, id.Email)
		fmt.Printf("Issued at:  %s\n", token.IssuedAt.Format(time.RFC3339))
	} else {
		fmt.Println("Signed out.")
	}

	prefs := session.NewPreferences(statePath(cfg, "prefs.json"))
	if err := prefs.Load(); err == nil {
		if theme := prefs.Get(session.PrefTheme); theme != "" {
			fmt.Printf("Theme:      %s\n", theme)
		}
	}

	poller := telemetry.NewPoller(g, cfg.TelemetryInterval)
	poller.Poll(ctx)
	snap := poller.Snapshot()
	fmt.Printf("Cache:      %d entries, %d responses served from cache\n",
		snap.TotalEntries, snap.CachedResponses)
}

func cmdHealth(cfg *config.Config, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	_, g := newGateway(cfg)
	probe := gateway.NewProbe(g)

	fmt.Println("Waiting for backend...")
	report, err := probe.Run(ctx)
	if err != nil {
		fatal("interrupted after %d attempts: %v", report.Attempts, err)
	}
	fmt.Printf("Backend ready after %d attempt(s): %s\n", report.Attempts, report.Status)
}

func cmdLs(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	wait := fs.Bool("wait-prefetch", false, "wait for the background prefetch before printing")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	maybeServeMetrics(cfg)
	_, g := newGateway(cfg)
	cache := tree.NewCache(tree.Config{
		Gateway:       g,
		PrefetchDelay: cfg.PrefetchDelay,
		PrefetchLimit: cfg.PrefetchLimit,
	})

	roots, err := cache.LoadRoot(ctx)
	if err != nil {
		fatal("load tree: %v", err)
	}

	if fs.NArg() > 0 {
		if err := cache.Expand(ctx, fs.Arg(0)); err != nil {
			fatal("expand %s: %v", fs.Arg(0), err)
		}
		roots = cache.Roots()
	}

	if *wait {
		time.Sleep(cfg.PrefetchDelay + 2*time.Second)
		roots = cache.Roots()
	}

	for _, n := range roots {
		printNode(n, 0)
	}
}

func printNode(n *models.FolderNode, depth int) {
	marker := " "
	if n.IsFolder() {
		marker = "+"
		if n.Prefetched {
			marker = "*"
		}
	}
	fmt.Printf("%s%s %s (%s)\n", strings.Repeat("  ", depth), marker, n.Name, n.ID)
	if n.Expanded || depth == 0 && n.Prefetched {
		for _, c := range n.Children {
			printNode(c, depth+1)
		}
	}
}

func cmdSearch(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("usage: canopy search <query>")
	}
	query := strings.Join(args, " ")

	ctx, cancel := signalContext()
	defer cancel()

	_, g := newGateway(cfg)
	cache := tree.NewCache(tree.Config{Gateway: g, DisablePrefetch: true})
	overlay := tree.NewOverlay(cache, g, cfg.SearchDebounce)

	if err := overlay.SetQuery(ctx, query); err != nil {
		fatal("search: %v", err)
	}

	// Trailing debounce plus the request itself.
	deadline := time.Now().Add(cfg.SearchDebounce + cfg.RequestTimeout)
	for !overlay.Active() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	results := overlay.View()
	if !overlay.Active() {
		fatal("search did not complete")
	}
	fmt.Printf("%d result(s) for %q:\n", len(results), query)
	for _, n := range results {
		fmt.Printf("  %s (%s)\n", n.Name, n.ID)
	}
}

func cmdChat(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	collection := fs.String("collection", "ALL_COLLECTIONS", "collection to query")
	fileID := fs.String("file", "", "scope the question to one file id")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: canopy chat [-collection name] [-file id] <message>")
	}
	message := strings.Join(fs.Args(), " ")

	ctx, cancel := signalContext()
	defer cancel()

	maybeServeMetrics(cfg)
	_, g := newGateway(cfg)
	sess := chat.NewSession(g)

	if *fileID != "" {
		sess.SelectFile(&models.FolderNode{ID: *fileID, Kind: models.KindFile})
	}

	_, done := sess.Send(ctx, message, *collection)
	<-done

	for _, m := range sess.Messages() {
		prefix := "you"
		if m.Role == models.RoleAssistant {
			prefix = "assistant"
		}
		fmt.Printf("[%s] %s\n", prefix, m.Text)
		for _, doc := range m.Documents {
			fmt.Printf("    - %s\n", doc.Name)
		}
	}
}

func cmdCollections(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("collections", flag.ExitOnError)
	switchTo := fs.String("switch", "", "switch the active collection")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	_, g := newGateway(cfg)

	if *switchTo != "" {
		if err := g.SwitchCollection(ctx, *switchTo); err != nil {
			fatal("switch collection: %v", err)
		}
		fmt.Printf("Active collection: %s\n", *switchTo)
		return
	}

	resp, err := g.Collections(ctx)
	if err != nil {
		fatal("list collections: %v", err)
	}
	for _, c := range resp.Collections {
		marker := " "
		if c.Name == resp.Active || c.Active {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, c.Name)
	}
}

// promptSecret reads a value without echoing when stdin is a terminal.
func promptSecret(prompt string) string {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
