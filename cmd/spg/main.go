package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/backend"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/config"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/db"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/engine"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/ledger"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/migrate"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/repo"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "spg",
	Short: "Solana agent payment gateway",
	Long: `spg runs a payment gateway for agent-to-agent service calls.
An agent lists a priced service; a payer opens a payment, pays on chain,
and submits the transaction signature. The gateway checks the ledger's
record of that transaction (success, recipient, amount within tolerance)
and only a verified payment unlocks execution of the service. Each
verified payment buys exactly one execution.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a gateway workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect gateway config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = c.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents are the parties on both sides of a payment: sellers list services against their wallet, payers fund them.",
	}
	agent.AddCommand(agentRegisterCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	agent.AddCommand(agentStatsCmd())
	return agent
}

func agentRegisterCmd() *cobra.Command {
	var opts engine.RegisterAgentOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "agent id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.WalletAddress, "wallet", "", "base58 wallet address")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Wallet", "Earned (lamports)"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.WalletAddress, a.EarnedLamports})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agentStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show agent earnings and completions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.AgentStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{
		Use:   "service",
		Short: "Manage services",
		Long:  "Services are priced offerings. The owning agent's wallet is snapshotted at listing time so later profile edits never redirect in-flight payments.",
	}
	svc.AddCommand(serviceCreateCmd())
	svc.AddCommand(serviceListCmd())
	svc.AddCommand(serviceShowCmd())
	return svc
}

func serviceCreateCmd() *cobra.Command {
	var opts engine.CreateServiceOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateService(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "service id (optional)")
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "owning agent id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "service name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.PriceLamports, "price-lamports", 0, "price in lamports")
	cmd.Flags().StringVar(&opts.Asset, "asset", "SOL", "asset")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price-lamports")
	return cmd
}

func serviceListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListServices(ctx, agentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Agent", "Price (lamports)", "Completed"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.AgentID, s.PriceLamports, s.CompletedTasks})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by owning agent")
	return cmd
}

func serviceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetService(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func paymentCmd() *cobra.Command {
	pay := &cobra.Command{
		Use:   "payment",
		Short: "Manage payments",
		Long:  "Payments flow pending -> verified (or a failure status) and a verified payment admits exactly one execution. Verify re-checks the ledger unless the stored outcome is terminal.",
	}
	pay.AddCommand(paymentInitiateCmd())
	pay.AddCommand(paymentVerifyCmd())
	pay.AddCommand(paymentExecuteCmd())
	pay.AddCommand(paymentListCmd())
	pay.AddCommand(paymentShowCmd())
	return pay
}

func paymentInitiateCmd() *cobra.Command {
	var serviceID, payerID string
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Open a payment and print the on-chain instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, instr, err := e.InitiatePayment(ctx, serviceID, payerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"payment": p, "instructions": instr})
				}
				fmt.Printf("Payment %s opened (status %s)\n", p.ID, p.Status)
				fmt.Printf("Pay %s SOL (%d lamports) to %s on %s\n", instr.AmountSOL, instr.AmountLamports, instr.PayTo, instr.Network)
				fmt.Printf("Then: spg payment verify %s --signature <tx signature>\n", p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serviceID, "service", "", "service id")
	cmd.Flags().StringVar(&payerID, "payer", "", "payer agent id")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("payer")
	return cmd
}

func paymentVerifyCmd() *cobra.Command {
	var signature string
	cmd := &cobra.Command{
		Use:   "verify <payment-id>",
		Short: "Verify a payment against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.VerifyPayment(ctx, args[0], signature, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Outcome: %s\n", res.Outcome)
				if res.Reason != "" {
					fmt.Printf("Reason: %s\n", res.Reason)
				}
				fmt.Printf("Payment status: %s\n", res.Payment.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "claimed transaction signature")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func paymentExecuteCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "execute <payment-id>",
		Short: "Execute the paid service (payment must be verified)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Execute(ctx, args[0], input, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				// The supervisor settles the task on this process's DB
				// connection; wait for it before the deferred close.
				e.Wait()
				t, err = e.Repo.GetTask(ctx, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Task %s %s\n", t.ID, t.Status)
				if t.OutputJSON != nil {
					fmt.Println(*t.OutputJSON)
				}
				if t.AbandonReason != nil {
					fmt.Printf("Reason: %s\n", *t.AbandonReason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input, "input-json", "", "input payload JSON")
	return cmd
}

func paymentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPayments(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Service", "Payer", "Amount", "Status", "Signature"})
				for _, p := range items {
					sig := ""
					if p.TxSignature != nil {
						sig = *p.TxSignature
					}
					tw.AppendRow(table.Row{p.ID, p.ServiceID, p.PayerID, p.AmountLamports, p.Status, sig})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func paymentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetPayment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks",
	}
	task.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var serviceID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, serviceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Payment", "Service", "Status"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.PaymentID, t.ServiceID, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serviceID, "service", "", "filter by service")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show gateway aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("SPG_JWT_SECRET")}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				mode := "open (set SPG_JWT_SECRET to require bearer auth)"
				if authCfg.JWTSecret != "" {
					mode = "bearer auth on mutating routes"
				}
				fmt.Printf("Serving gateway API on http://%s%s (%s)\n", addr, basePath, mode)
				fmt.Printf("OpenAPI at %s/openapi.json, Swagger UI at /docs\n", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				// Let detached supervisors settle before the DB closes.
				e.Wait()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	oracle := ledger.NewRPCClient(cfg.Network.RPCURL)
	e := engine.New(conn, cfg, oracle, backend.Local{})
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
