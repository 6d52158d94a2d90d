package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jathurchan/grouplock/locking"
	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/transport"
	"github.com/jathurchan/grouplock/types"
)

// demoConfig holds the knobs of the contention demo.
type demoConfig struct {
	Members  int
	Workers  int
	LockName string
	Duration time.Duration
	HoldTime time.Duration
	Policy   string
	LogLevel string
	Verbose  bool
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg := parseFlags()

	lg := logger.NewStdLogger(cfg.LogLevel)
	network := transport.NewInMemNetwork(lg)

	var policy locking.Policy
	switch cfg.Policy {
	case "central":
		policy = locking.NewCentralPolicy()
	case "peer":
		policy = locking.NewPeerPolicy()
	default:
		return fmt.Errorf("unknown policy %q (want central or peer)", cfg.Policy)
	}

	// One service per member, all connected through the in-process network.
	services := make([]*locking.Service, 0, cfg.Members)
	for i := 0; i < cfg.Members; i++ {
		addr := types.MemberAddress(fmt.Sprintf("member-%d", i+1))
		member, err := network.NewMember(addr)
		if err != nil {
			return err
		}
		svc, err := locking.NewService(member,
			locking.WithPolicy(policy),
			locking.WithLogger(lg),
		)
		if err != nil {
			return err
		}
		if err := member.Join(svc); err != nil {
			return err
		}
		services = append(services, svc)
	}
	services[0].AddListener(&printListener{verbose: cfg.Verbose})

	fmt.Printf("Contending for %q with %d members x %d workers for %v (policy=%s)\n\n",
		cfg.LockName, cfg.Members, cfg.Workers, cfg.Duration, cfg.Policy)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	grants := make([]atomic.Int64, cfg.Members)
	var wg sync.WaitGroup
	for i, svc := range services {
		for w := 0; w < cfg.Workers; w++ {
			wg.Add(1)
			go func(counter *atomic.Int64, svc *locking.Service) {
				defer wg.Done()
				contend(ctx, svc, cfg, counter)
			}(&grants[i], svc)
		}
	}
	wg.Wait()

	fmt.Println("\nGrants per member:")
	for i := range services {
		fmt.Printf("  member-%d: %d\n", i+1, grants[i].Load())
	}
	return nil
}

func contend(ctx context.Context, svc *locking.Service, cfg demoConfig, counter *atomic.Int64) {
	mu := svc.Mutex(cfg.LockName)
	for ctx.Err() == nil {
		ok, err := mu.TryLockTimeout(ctx, time.Second)
		if err != nil {
			return // demo shutting down
		}
		if !ok {
			continue
		}

		counter.Add(1)
		time.Sleep(time.Duration(rand.Int63n(int64(cfg.HoldTime))))
		mu.Unlock()
	}
}

// printListener echoes lock transitions to stdout.
type printListener struct {
	verbose bool
}

func (l *printListener) LockCreated(name string) {
	if l.verbose {
		fmt.Printf("  created  %s\n", name)
	}
}

func (l *printListener) LockDeleted(name string) {
	if l.verbose {
		fmt.Printf("  deleted  %s\n", name)
	}
}

func (l *printListener) Locked(name string, owner types.Owner) {
	fmt.Printf("  locked   %s by %s\n", name, owner)
}

func (l *printListener) Unlocked(name string, owner types.Owner) {
	if l.verbose {
		fmt.Printf("  unlocked %s by %s\n", name, owner)
	}
}

func parseFlags() demoConfig {
	cfg := demoConfig{}
	flag.IntVar(&cfg.Members, "members", 3, "number of group members")
	flag.IntVar(&cfg.Workers, "workers", 2, "workers per member contending for the lock")
	flag.StringVar(&cfg.LockName, "lock", "demo", "lock name to contend for")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Second, "how long to run")
	flag.DurationVar(&cfg.HoldTime, "hold", 20*time.Millisecond, "max time a worker holds the lock")
	flag.StringVar(&cfg.Policy, "policy", "central", "server placement policy: central or peer")
	flag.StringVar(&cfg.LogLevel, "log-level", "error", "log level: debug, info, warn, error")
	flag.BoolVar(&cfg.Verbose, "v", false, "print create/delete/unlock events too")
	flag.Parse()

	if cfg.Members < 1 || cfg.Workers < 1 {
		fmt.Fprintln(os.Stderr, "members and workers must be at least 1")
		os.Exit(2)
	}
	if cfg.HoldTime <= 0 {
		cfg.HoldTime = time.Millisecond
	}
	return cfg
}
