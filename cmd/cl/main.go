package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contractline/internal/app"
	"contractline/internal/config"
	"contractline/internal/db"
	"contractline/internal/domain"
	"contractline/internal/engine"
	"contractline/internal/migrate"
	"contractline/internal/orbit"
	"contractline/internal/repo"
	"contractline/internal/server"
	"contractline/internal/telemetry"
	"contractline/internal/world"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Contractline CLI",
	Long: `Contractline generates procedural contracts and tracks their objectives against world telemetry.
Core concepts:
- Workspace: the .contractline directory holding the save database.
- Save: one career. It owns the live contracts, the world snapshot, the clock and the config.
- Contract: an offer of a kind (survey, anomaly, asteroid, orbital, recon) and a tier. Statuses go offered -> active -> completed; failed, cancelled and deadline_expired are exits.
- Objectives: a tree of nodes per contract. Leaves react to telemetry; holds and aggregates combine them.
- Telemetry: world events (orbit.entered, sample.received, parts.coupled ...) fed by 'cl telemetry publish' or the API.
- Ticks: universal time advances with 'cl tick'; timed holds and deadlines flip on ticks.
- Event log: the ledger of offers, settlements and objective transitions, view with 'cl events'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("CONTRACTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("save", engine.DefaultSave, "save id")
	rootCmd.PersistentFlags().String("config", "", "config file (overrides the stored save config)")
	rootCmd.PersistentFlags().String("world", "", "world sandbox file for new saves")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("save", rootCmd.PersistentFlags().Lookup("save"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("world", rootCmd.PersistentFlags().Lookup("world"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(telemetryCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(worldCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default contractline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				fmt.Printf("Initialized save %s in %s\n", e.SaveID, workspace)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing contractline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect save config",
		Long:  "Config is the generation rulebook stored with each save: caps per kind, tier multipliers, base rewards and target rules. A --config file or the workspace contractline.yml seeds new saves.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the config of the save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				b, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config of the save",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a config file with the save",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				saveID := viper.GetString("save")
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureSave(ctx, tx, saveID); err != nil {
					return err
				}
				if err := r.UpsertSaveConfigTx(ctx, tx, saveID, cfg); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("config %s stored for save %s\n", file, saveID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "contractline.yml", "config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show save status",
		Long:  "The scoreboard of a save: clock, contract counts per status and reached locations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				counts := map[string]int{}
				for _, c := range e.Contracts(engine.ContractFilters{}) {
					counts[c.Status]++
				}
				doc := e.World.Document()
				out := map[string]any{
					"save_id":         e.SaveID,
					"clock":           e.Clock(),
					"contract_counts": counts,
					"reached":         doc.Progression.Reached,
					"vessels":         len(doc.Vessels),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Save: %s (clock %.1f)\n", e.SaveID, e.Clock())
				fmt.Printf("Reached: %s\n", strings.Join(doc.Progression.Reached, ", "))
				fmt.Printf("Vessels: %d\n", len(doc.Vessels))
				fmt.Println("Contracts:")
				for status, n := range counts {
					fmt.Printf("  %s: %d\n", status, n)
				}
				return nil
			})
		},
	}
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contract",
		Short: "Generate and manage contracts",
	}
	c.AddCommand(contractGenerateCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractShowCmd())
	c.AddCommand(contractTransitionCmd("accept", "Accept an offered contract", (*engine.Engine).Accept))
	c.AddCommand(contractTransitionCmd("cancel", "Cancel an offered or active contract", (*engine.Engine).Cancel))
	return c
}

func contractGenerateCmd() *cobra.Command {
	var kind, tier, seed string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Offer a new contract",
		Long:  "Draw a new offer of the given kind. The same --seed against the same world always yields the same contract.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GenerateOptions{Kind: kind, Tier: tier}
			if seed != "" {
				v, err := strconv.ParseInt(seed, 0, 64)
				if err != nil {
					return fmt.Errorf("invalid --seed %q: %w", seed, err)
				}
				opts.Seed = &v
			}
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				c, err := e.Generate(ctx, opts)
				if err != nil {
					return err
				}
				return printContract(c)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", config.KindSurvey, "contract kind (survey, anomaly, asteroid, orbital, recon)")
	cmd.Flags().StringVar(&tier, "tier", "", "tier (trivial, significant, exceptional); random when empty")
	cmd.Flags().StringVar(&seed, "seed", "", "generation seed (decimal or 0x hex)")
	return cmd
}

func contractListCmd() *cobra.Command {
	var f engine.ContractFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				items := e.Contracts(f)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Tier", "Body", "Status", "Faction", "Reward", "Deadline"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Kind, c.Tier, c.Body, c.Status, c.Faction, fmt.Sprintf("%.0f", c.Rewards.FundsReward), formatClock(c.Deadline)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func contractShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract and its objective tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				c, err := e.Contract(args[0])
				if err != nil {
					return err
				}
				return printContract(c)
			})
		},
	}
}

func contractTransitionCmd(use, short string, fn func(*engine.Engine, context.Context, string) (domain.Contract, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <contract-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				c, err := fn(e, ctx, args[0])
				if err != nil {
					return err
				}
				return printContract(c)
			})
		},
	}
}

func telemetryCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "telemetry",
		Short: "Feed world events to the objectives",
	}
	t.AddCommand(telemetryPublishCmd())
	return t
}

func telemetryPublishCmd() *cobra.Command {
	var ev telemetry.Event
	var kind string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one telemetry event",
		Long:  "Publish one world event. Only the flags relevant to --kind are read: vessel for orbit and vessel events, other for part couplings, subject and value for samples, body, experiment, biome and size-class for anomaly and asteroid samples.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev.Kind = telemetry.Kind(kind)
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Publish(ctx, ev)
				if err != nil {
					return err
				}
				return printResult(e, res)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind (orbit.entered, sample.received, parts.coupled ...)")
	cmd.Flags().StringVar(&ev.Vessel, "vessel", "", "vessel id")
	cmd.Flags().StringVar(&ev.Other, "other", "", "other vessel id for couplings")
	cmd.Flags().StringVar(&ev.Body, "body", "", "celestial body")
	cmd.Flags().StringVar(&ev.Subject, "subject", "", "science subject id")
	cmd.Flags().Float64Var(&ev.Value, "value", 0, "science value")
	cmd.Flags().StringVar(&ev.Experiment, "experiment", "", "experiment id")
	cmd.Flags().StringVar(&ev.Biome, "biome", "", "biome")
	cmd.Flags().StringVar(&ev.SizeClass, "size-class", "", "asteroid size class")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func tickCmd() *cobra.Command {
	var now, advance float64
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advance universal time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				target := now
				if advance > 0 {
					target = e.Clock() + advance
				}
				res, err := e.Tick(ctx, target)
				if err != nil {
					return err
				}
				return printResult(e, res)
			})
		},
	}
	cmd.Flags().Float64Var(&now, "now", 0, "absolute universal time")
	cmd.Flags().Float64Var(&advance, "advance", 0, "seconds to advance from the current clock")
	cmd.MarkFlagsMutuallyExclusive("now", "advance")
	cmd.MarkFlagsOneRequired("now", "advance")
	return cmd
}

func worldCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "world",
		Short: "Inspect and mutate the save's world sandbox",
	}
	w.AddCommand(worldShowCmd())
	w.AddCommand(worldVesselCmd())
	w.AddCommand(worldDockCmd(true))
	w.AddCommand(worldDockCmd(false))
	w.AddCommand(&cobra.Command{
		Use:   "reach <location>",
		Short: "Mark a progression location as reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				e.Reach(args[0])
				fmt.Printf("reached %s\n", args[0])
				return nil
			})
		},
	})
	w.AddCommand(&cobra.Command{
		Use:   "unlock <equipment>",
		Short: "Unlock an equipment part",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				e.Unlock(args[0])
				fmt.Printf("unlocked %s\n", args[0])
				return nil
			})
		},
	})
	w.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print the default world sandbox YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(world.DefaultYAML())
			return nil
		},
	})
	return w
}

func worldShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the world snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.World.Document())
				}
				b, err := e.World.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			})
		},
	}
}

func worldVesselCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "vessel",
		Short: "Manage vessels",
	}
	var body string
	var el orbit.Elements
	var groups []string
	set := &cobra.Command{
		Use:   "set <vessel-id>",
		Short: "Create or replace a vessel",
		Long:  "Create or replace a vessel. Without --body the vessel has no orbit (landed or on the pad).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := world.VesselDoc{ID: args[0], Groups: groups}
			if body != "" {
				doc.Orbit = &orbit.Orbit{Body: body, Elements: el}
			}
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.UpsertVessel(ctx, doc)
				if err != nil {
					return err
				}
				return printResult(e, res)
			})
		},
	}
	set.Flags().StringVar(&body, "body", "", "orbited body")
	set.Flags().Float64Var(&el.SemiMajorAxis, "sma", 0, "semi-major axis (m)")
	set.Flags().Float64Var(&el.Eccentricity, "ecc", 0, "eccentricity")
	set.Flags().Float64Var(&el.Inclination, "inc", 0, "inclination (deg)")
	set.Flags().Float64Var(&el.LAN, "lan", 0, "longitude of ascending node (deg)")
	set.Flags().Float64Var(&el.ArgumentOfPeriapsis, "argp", 0, "argument of periapsis (deg)")
	set.Flags().Float64Var(&el.MeanAnomalyAtEpoch, "mean-anomaly", 0, "mean anomaly at epoch (rad)")
	set.Flags().StringSliceVar(&groups, "group", nil, "part groups carried by the vessel")
	v.AddCommand(set)
	v.AddCommand(&cobra.Command{
		Use:   "rm <vessel-id>",
		Short: "Remove a vessel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.RemoveVessel(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(e, res)
			})
		},
	})
	return v
}

func worldDockCmd(dock bool) *cobra.Command {
	var groups []string
	use, short := "dock <from> <to>", "Dock vessel from into vessel to"
	if !dock {
		use, short = "undock <from> <to>", "Split the given part groups off vessel from into a new vessel to"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
				var res engine.Result
				var err error
				if dock {
					res, err = e.Dock(ctx, args[0], args[1])
				} else {
					res, err = e.Undock(ctx, args[0], args[1], groups)
				}
				if err != nil {
					return err
				}
				return printResult(e, res)
			})
		},
	}
	if !dock {
		cmd.Flags().StringSliceVar(&groups, "group", nil, "part groups moved to the new vessel")
	}
	return cmd
}

func saveCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "save",
		Short: "Manage saves",
	}
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				saves, err := r.ListSaves(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(saves)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Clock", "Contracts", "Updated"})
				for _, s := range saves {
					tw.AppendRow(table.Row{s.ID, formatClock(s.Clock), s.Contracts, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "rm <save-id>",
		Short: "Delete a save with its contracts and ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteSave(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted save %s\n", args[0])
				return nil
			})
		},
	})
	return s
}

func eventsCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the event ledger of the save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f.SaveID = viper.GetString("save")
				items, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the control API",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "cl_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.NewString(),
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "name": key.Name, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name, used as the request principal")
	_ = create.MarkFlagRequired("name")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "rm <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted key %s\n", args[0])
				return nil
			})
		},
	})
	return k
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with CONTRACTLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CONTRACTLINE_JWT_SECRET is required to sign tokens")
			}
			tok, err := server.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "host", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var autosave time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the control API for one save. Bearer tokens need CONTRACTLINE_JWT_SECRET; --auth makes credentials mandatory. Webhooks are read from the server.webhooks list of contractline.yml.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			e, err := app.Open(ctx, r, sessionOptions())
			if err != nil {
				return err
			}
			if _, err := e.Save(ctx); err != nil {
				return err
			}
			hooks, err := loadWebhooks(workspace)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret: viper.GetString("jwt-secret"),
				Required:  viper.GetBool("auth"),
				DevLogin:  viper.GetBool("dev-login"),
				Logger:    e.Logger,
			}
			if authCfg.Required && authCfg.JWTSecret == "" {
				e.Logger.Printf("serve: CONTRACTLINE_JWT_SECRET unset, only API keys will authenticate")
			}
			if authCfg.DevLogin && authCfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login needs CONTRACTLINE_JWT_SECRET")
			}
			api, err := server.Build(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: e.Logger})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, r, e.SaveID, hooks, e.Logger)
			if autosave > 0 {
				go func() {
					t := time.NewTicker(autosave)
					defer t.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-t.C:
							if err := api.Save(ctx); err != nil {
								e.Logger.Printf("serve: autosave failed: %v", err)
							}
						}
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: api.Handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Contractline API for save %s on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", e.SaveID, addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return api.Save(context.Background())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().Bool("auth", false, "require credentials on every request")
	cmd.Flags().Bool("dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().DurationVar(&autosave, "autosave", time.Minute, "save interval (0 disables)")
	_ = viper.BindPFlag("auth", cmd.Flags().Lookup("auth"))
	_ = viper.BindPFlag("dev-login", cmd.Flags().Lookup("dev-login"))
	return cmd
}

// loadWebhooks reads server.webhooks from the workspace contractline.yml.
func loadWebhooks(workspace string) ([]server.WebhookConfig, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var hooks []server.WebhookConfig
	if err := v.UnmarshalKey("server.webhooks", &hooks); err != nil {
		return nil, fmt.Errorf("invalid server.webhooks: %w", err)
	}
	return hooks, nil
}

// --- helpers ---

func sessionOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		SaveID:     viper.GetString("save"),
		ConfigPath: viper.GetString("config"),
		WorldPath:  viper.GetString("world"),
	}
}

// withSession opens the save and, when persist is set, writes it back after fn succeeds.
func withSession(ctx context.Context, persist bool, fn func(context.Context, *engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		e, err := app.Open(ctx, r, sessionOptions())
		if err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		if !persist {
			return nil
		}
		_, err = e.Save(ctx)
		return err
	})
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printContract(c domain.Contract) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	fmt.Printf("Contract %s: %s %s at %s [%s]\n", c.ID, c.Tier, c.Kind, c.Body, c.Status)
	if c.Faction != "" {
		fmt.Printf("Faction: %s\n", c.Faction)
	}
	fmt.Printf("Rewards: advance %.0f, reward %.0f, penalty %.0f, reputation +%.1f/-%.1f, science %.1f\n",
		c.Rewards.FundsAdvance, c.Rewards.FundsReward, c.Rewards.FundsPenalty,
		c.Rewards.ReputationReward, c.Rewards.ReputationPenalty, c.Rewards.Science)
	if c.Deadline > 0 {
		fmt.Printf("Deadline: %s\n", formatClock(c.Deadline))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Objective", "State", "Summary"})
	for _, o := range c.Objectives {
		tw.AppendRow(table.Row{o.ID, strings.Repeat("  ", o.Depth) + o.Kind, o.State, o.Summary})
	}
	tw.Render()
	return nil
}

func printResult(e *engine.Engine, res engine.Result) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"clock": e.Clock(), "result": res})
	}
	fmt.Printf("clock %.1f, %d subscribers notified\n", e.Clock(), res.Delivered)
	for _, tr := range res.Transitions {
		fmt.Printf("  %s #%d %s: %s -> %s\n", tr.ContractID, tr.Node, tr.Kind, tr.From, tr.To)
	}
	for _, c := range res.Settled {
		fmt.Printf("contract %s %s\n", c.ID, c.Status)
	}
	return nil
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

func formatClock(ut float64) string {
	if ut <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f", ut)
}
