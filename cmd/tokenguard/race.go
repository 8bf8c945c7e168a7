package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/principal"
	"github.com/spf13/cobra"
)

var (
	raceRounds      int
	raceConcurrency int
	raceRedis       string
)

var raceCmd = &cobra.Command{
	Use:   "race",
	Short: "Present the same refresh token concurrently and check only one rotation wins",
	Long: `race logs in once per round and has every worker refresh the same token at
the same instant. Exactly one refresh must succeed; the others must be
reported as reuse. Latency percentiles of the refresh calls are printed.`,
	RunE: runRace,
}

func init() {
	raceCmd.Flags().IntVar(&raceRounds, "rounds", 200, "number of rounds")
	raceCmd.Flags().IntVar(&raceConcurrency, "concurrency", 16, "concurrent refreshes per round")
	raceCmd.Flags().StringVar(&raceRedis, "redis", "", "redis address, or \"memory\" (env "+envRedisAddr+")")
}

type raceResult struct {
	rounds   int
	winners  int
	reuse    int
	other    int
	badRound int
	total    time.Duration
	samples  []time.Duration
}

func runRace(cmd *cobra.Command, _ []string) error {
	if raceRounds <= 0 || raceConcurrency <= 1 {
		return errors.New("rounds must be > 0 and concurrency > 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Tokens.AccessSecret) == 0 && len(cfg.Tokens.RefreshSecret) == 0 {
		cfg.Tokens.AccessSecret = randomSecret()
		cfg.Tokens.RefreshSecret = randomSecret()
	}
	cfg.Metrics.Enabled = true

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rdb, closeRedis, err := openRedis(ctx, flagOrEnv(raceRedis, envRedisAddr), discardLogger())
	if err != nil {
		return err
	}
	defer closeRedis()

	store := principal.NewMemoryStore()
	engine, err := tokenguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	const identifier, secret = "race", "race-password"
	if err := seedRacer(store, cfg.Password, identifier, secret); err != nil {
		return err
	}

	res, err := race(ctx, engine, identifier, secret, raceRounds, raceConcurrency)
	if err != nil {
		return err
	}
	printRace(cmd.OutOrStdout(), res)
	if res.badRound > 0 {
		return fmt.Errorf("%d of %d rounds did not have exactly one winner", res.badRound, res.rounds)
	}
	return nil
}

func seedRacer(store *principal.MemoryStore, cfg tokenguard.PasswordConfig, identifier, secret string) error {
	hasher, err := tokenguard.NewHasher(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	return store.Put(tokenguard.Principal{
		ID:           "u-" + identifier,
		Identifier:   identifier,
		PasswordHash: hash,
		Roles:        authz.NewRoleSet(authz.RoleUser),
	})
}

func race(ctx context.Context, engine *tokenguard.Engine, identifier, secret string, rounds, concurrency int) (raceResult, error) {
	res := raceResult{rounds: rounds, samples: make([]time.Duration, 0, rounds*concurrency)}
	var mu sync.Mutex

	start := time.Now()
	for round := 0; round < rounds; round++ {
		pair, err := engine.Login(ctx, identifier, secret)
		if err != nil {
			return res, fmt.Errorf("round %d login: %w", round, err)
		}

		var (
			wg      sync.WaitGroup
			gate    = make(chan struct{})
			winners int
		)
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				_, err := engine.Refresh(ctx, pair.RefreshToken)
				d := time.Since(t0)

				mu.Lock()
				defer mu.Unlock()
				res.samples = append(res.samples, d)
				switch {
				case err == nil:
					winners++
				case errors.Is(err, tokenguard.ErrTokenReuseDetected):
					res.reuse++
				default:
					res.other++
				}
			}()
		}
		close(gate)
		wg.Wait()

		res.winners += winners
		if winners != 1 {
			res.badRound++
		}
	}
	res.total = time.Since(start)
	return res, nil
}

func printRace(w io.Writer, r raceResult) {
	sort.Slice(r.samples, func(i, j int) bool { return r.samples[i] < r.samples[j] })
	fmt.Fprintf(w, "rounds=%d winners=%d reuse=%d other=%d bad_rounds=%d total=%s\n",
		r.rounds, r.winners, r.reuse, r.other, r.badRound, r.total.Round(time.Millisecond))
	fmt.Fprintf(w, "refresh p50=%s p95=%s p99=%s\n",
		percentile(r.samples, 50).Round(time.Microsecond),
		percentile(r.samples, 95).Round(time.Microsecond),
		percentile(r.samples, 99).Round(time.Microsecond),
	)
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func randomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}
