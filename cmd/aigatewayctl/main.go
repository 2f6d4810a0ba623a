// aigatewayctl is the operator CLI for the AI request gateway: inspect and
// flip the kill switch, read the circuit breaker, and check a tenant's
// daily spend. Everything goes through the shared state store, so changes
// take effect in every running process immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/breaker"
	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/costcap"
	"github.com/nardology/ai-gateway/internal/incident"
	"github.com/nardology/ai-gateway/internal/killswitch"
	"github.com/nardology/ai-gateway/internal/store"
)

const usageText = `Usage: aigatewayctl [-config path] <command>

Commands:
  status                      show kill switch and breaker state
  disable -reason R [-ttl D]  disable AI globally (default ttl 1h)
  enable                      re-enable AI
  cost -tenant ID             show a tenant's spend today
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if cfg.Redis.URL == "" {
		log.Fatal().Msg("REDIS_URL is not set")
	}

	st, err := store.NewRedis(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to redis")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}

	notifier := incident.NewRecorder(st)
	kill := killswitch.New(st, cfg.KillSwitch, notifier)
	brk := breaker.New(st, notifier)
	costs := costcap.New(st, cfg.CostCap)

	switch args[0] {
	case "status":
		runStatus(ctx, kill, brk)
	case "disable":
		runDisable(ctx, kill, args[1:])
	case "enable":
		if err := kill.Enable(ctx); err != nil {
			log.Fatal().Err(err).Msg("enable failed")
		}
		fmt.Println("AI re-enabled.")
	case "cost":
		runCost(ctx, costs, cfg, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runStatus(ctx context.Context, kill *killswitch.Switch, brk *breaker.Breaker) {
	if kill.IsDisabled(ctx) {
		fmt.Println("kill switch: DISABLED")
		if meta, ok := kill.GetMeta(ctx); ok {
			fmt.Printf("  since:  %s\n", time.Unix(meta.SetAt, 0).UTC().Format(time.RFC3339))
			fmt.Printf("  reason: %s\n", meta.Reason)
			fmt.Printf("  ttl:    %ds\n", meta.TTLSeconds)
		}
	} else {
		fmt.Println("kill switch: enabled (traffic flowing)")
	}

	if rem := brk.RemainingOpen(ctx); rem > 0 {
		fmt.Printf("circuit breaker: OPEN for another %ds\n", int(rem.Seconds()))
	} else {
		fmt.Println("circuit breaker: closed")
	}
}

func runDisable(ctx context.Context, kill *killswitch.Switch, args []string) {
	fs := flag.NewFlagSet("disable", flag.ExitOnError)
	reason := fs.String("reason", "", "operator-visible reason")
	ttl := fs.Duration("ttl", time.Hour, "how long to keep AI disabled")
	_ = fs.Parse(args)

	if *reason == "" {
		fmt.Fprintln(os.Stderr, "disable requires -reason")
		os.Exit(2)
	}
	if err := kill.Disable(ctx, *reason, *ttl); err != nil {
		log.Fatal().Err(err).Msg("disable failed")
	}
	fmt.Printf("AI disabled for %s: %s\n", *ttl, *reason)
}

func runCost(ctx context.Context, costs *costcap.Enforcer, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("cost", flag.ExitOnError)
	tenant := fs.String("tenant", "", "tenant id")
	tier := fs.String("tier", config.TierFree, "tenant tier (free|pro)")
	_ = fs.Parse(args)

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "cost requires -tenant")
		os.Exit(2)
	}
	allowed, current, cap := costs.IsWithinBudget(ctx, *tenant, *tier)
	if cap <= 0 {
		fmt.Printf("tenant %s: %.3f cents today (no cap for tier %s)\n",
			*tenant, costs.TodayCostCents(ctx, *tenant), *tier)
		return
	}
	state := "within budget"
	if !allowed {
		state = "CAP REACHED"
	}
	fmt.Printf("tenant %s: %.3f / %.1f cents today (%s)\n", *tenant, current, cap, state)
}
