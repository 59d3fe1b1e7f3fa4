package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"opsportal/internal/app"
	"opsportal/internal/config"
	"opsportal/internal/domain"
	"opsportal/internal/ecosystem"
	"opsportal/internal/hub"
	"opsportal/internal/orders"
	"opsportal/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Ops portal client",
	Long: `portal reads the operations hub as one business party and applies order actions.
- Viewer: the role and code you act as (--role, --code); every read is scoped to it.
- Ecosystem: the tree of parties related to the viewer.
- Orders: service and product orders with the status this viewer sees and the actions it may take.
- Journal: local append-only record of actions issued from this workspace, view with 'portal journal tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PORTAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/portal.yml)")
	flags.String("base-url", "", "hub base URL (overrides config)")
	flags.String("token", "", "bearer token forwarded to the hub")
	flags.String("role", "", "viewer role")
	flags.String("code", "", "viewer code")
	flags.String("name", "", "viewer display name")
	flags.Duration("timeout", 0, "hub request timeout (overrides config)")
	flags.Bool("json", false, "output JSON")
	flags.Bool("verbose", false, "debug logging")
	for _, name := range []string{"workspace", "config", "base-url", "token", "role", "code", "name", "timeout", "json", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(ecosystemCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(entityCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func ecosystemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ecosystem",
		Short: "Show the viewer's relationship tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := viewerFromFlags()
				if err != nil {
					return err
				}
				root, err := a.Hub.Ecosystem(ctx, v)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(root)
				}
				renderTree(root)
				return nil
			})
		},
	}
}

func renderTree(root *ecosystem.Node) {
	lw := list.NewWriter()
	lw.SetOutputMirror(os.Stdout)
	lw.SetStyle(list.StyleConnectedRounded)
	var add func(n *ecosystem.Node)
	add = func(n *ecosystem.Node) {
		label := fmt.Sprintf("%s (%s %s)", n.Name, n.Role, n.ID)
		if n.Status != "" {
			label += " [" + n.Status + "]"
		}
		lw.AppendItem(label)
		if len(n.Children) == 0 {
			return
		}
		lw.Indent()
		for _, c := range n.Children {
			add(c)
		}
		lw.UnIndent()
	}
	add(root)
	lw.Render()
}

func ordersCmd() *cobra.Command {
	var statusFilter, typeFilter string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders visible to the viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := viewerFromFlags()
				if err != nil {
					return err
				}
				found, err := a.Hub.Orders(ctx, v, hub.OrderFilter{Status: statusFilter, Type: domain.OrderType(typeFilter)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders.ProjectAll(found, v.Role))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Status", "Items", "Total", "Actions"})
				for _, o := range found {
					view := orders.Project(o, v.Role)
					tw.AppendRow(table.Row{view.OrderID, view.OrderType, view.Title, view.StatusLabel, view.ItemCount, fmt.Sprintf("%.2f", view.Total), joinActions(orders.AllowedActions(o, v.Role))})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "status filter")
	cmd.Flags().StringVar(&typeFilter, "type", "", "order type filter (service|product)")
	return cmd
}

func joinActions(actions []orders.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ",")
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Act on one order"}
	cmd.AddCommand(orderActCmd())
	return cmd
}

func orderActCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "act <order-id> <action>",
		Short: "Apply accept, reject, cancel, deliver or create-service to an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := viewerFromFlags()
				if err != nil {
					return err
				}
				o, err := a.Hub.Apply(ctx, v, hub.ActionInput{OrderID: args[0], Action: args[1], Notes: notes})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				view := orders.Project(o, v.Role)
				fmt.Printf("%s %s: %s\n", view.OrderID, args[1], view.StatusLabel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes sent with the action")
	return cmd
}

func activityCmd() *cobra.Command {
	var limit int
	var categories []string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the viewer's recent activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := viewerFromFlags()
				if err != nil {
					return err
				}
				items, err := a.Hub.ActivityFeed(ctx, v, limit, categories...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Type", "Category", "Message"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Timestamp.Local().Format(time.DateTime), it.Type, it.Category, it.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max items (defaults to config activity.limit)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "category filter (repeatable)")
	return cmd
}

func entityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "entity", Short: "Read cataloged entities"}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <type> <id>",
		Short: "Fetch entity details, falling back to the deleted snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Hub.Entity(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"entityType":  args[0],
					"entityId":    args[1],
					"isTombstone": p.IsTombstone(),
					"data":        p.Data,
				})
			})
		},
	})
	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "journal", Short: "Inspect the local action journal"}
	cmd.AddCommand(journalTailCmd())
	return cmd
}

func journalTailCmd() *cobra.Command {
	var n int
	var orderID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest recorded actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Journal == nil {
					return fmt.Errorf("journal is disabled in config")
				}
				entries, err := a.Journal.Latest(ctx, n, orderID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Order", "Action", "Actor", "Outcome", "Error"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.OrderID, e.Action, fmt.Sprintf("%s:%s", e.ActorRole, e.ActorCode), e.Outcome, e.ErrorKind})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&orderID, "order", "", "order id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Config utilities"}
	var effective bool
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the default config, or the effective one with --effective",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !effective {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			cfg, err := effectiveConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	printCmd.Flags().BoolVar(&effective, "effective", false, "print the config after file and flag overrides")
	cmd.AddCommand(printCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{Use: "token", Short: "Viewer token utilities"}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a viewer JWT for the --role/--code viewer with the server secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectiveConfig()
			if err != nil {
				return err
			}
			v, err := viewerFromFlags()
			if err != nil {
				return err
			}
			tok, err := server.SignViewerToken(jwtSecret(cfg), v, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for none)")
	cmd.AddCommand(issue)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowDevLogin, allowViewerHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the view API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:          jwtSecret(a.Config),
					AllowDevLogin:      allowDevLogin,
					AllowViewerHeaders: allowViewerHeaders,
					Logger:             a.Logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("PORTAL_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				scfg := server.Config{Portal: a.Hub, BasePath: basePath, Auth: authCfg, Logger: a.Logger}
				if a.Journal != nil {
					scfg.Journal = a.Journal
				}
				handler, err := server.New(scfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Ops Portal API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&allowDevLogin, "allow-dev-login", false, "expose POST /auth/dev/token")
	cmd.Flags().BoolVar(&allowViewerHeaders, "allow-viewer-headers", false, "accept X-Viewer-Role/X-Viewer-Code without a token")
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// effectiveConfig loads the workspace config and applies flag and env
// overrides.
func effectiveConfig() (*config.Config, error) {
	cfg, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if v := strings.TrimSpace(viper.GetString("base-url")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if d := viper.GetDuration("timeout"); d > 0 {
		cfg.Backend.Timeout.Duration = d
	}
}

func jwtSecret(cfg *config.Config) string {
	if s := strings.TrimSpace(viper.GetString("jwt-secret")); s != "" {
		return s
	}
	return cfg.Server.JWTSecret
}

func viewerFromFlags() (domain.Viewer, error) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(viper.GetString("role"))))
	code := strings.TrimSpace(viper.GetString("code"))
	if !role.IsBusiness() {
		return domain.Viewer{}, fmt.Errorf("--role must be one of manager, contractor, customer, center, crew, warehouse")
	}
	if code == "" {
		return domain.Viewer{}, fmt.Errorf("--code is required")
	}
	return domain.Viewer{Role: role, Code: code, Name: viper.GetString("name")}, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := effectiveConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, app.Options{
		Workspace: workspace,
		Config:    cfg,
		Token:     viper.GetString("token"),
		Logger:    newLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
