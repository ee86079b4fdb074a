// Command blockstm-bench runs a synthetic block of balance-transfer
// transactions through both the MVCC speculative executor and the
// fast-path batch executor, and reports how they compare.
package main

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
	"github.com/0xPolygon/parallel-block-executor/core/blockstm/evmtask"
	"github.com/0xPolygon/parallel-block-executor/core/blockstm/fastpath"
	"github.com/0xPolygon/parallel-block-executor/state/baseview"
)

func main() {
	app := &cli.App{
		Name:  "blockstm-bench",
		Usage: "compare the MVCC and fast-path block executors on a synthetic block",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "txns", Value: 5000, Usage: "number of synthetic transfer transactions"},
			&cli.IntFlag{Name: "accounts", Value: 200, Usage: "number of distinct accounts"},
			&cli.IntFlag{Name: "concurrency", Value: 0, Usage: "MVCC worker count (0 = GOMAXPROCS)"},
			&cli.IntFlag{Name: "batch-size", Value: 64, Usage: "fast-path batch size"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "synthetic block PRNG seed"},
			&cli.StringFlag{Name: "driver", Value: "both", Usage: "mvcc, fastpath, or both"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("blockstm-bench: fatal", "err", err)
	}
}

func run(c *cli.Context) error {
	runID := uuid.New()
	log.Info("blockstm-bench: starting run", "run", runID, "txns", c.Int("txns"), "accounts", c.Int("accounts"))

	block := buildBlock(c.Int("txns"), c.Int("accounts"), c.Int64("seed"))

	concurrency := c.Int("concurrency")
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	driver := c.String("driver")

	if driver == "mvcc" || driver == "both" {
		if err := runMVCC(block, concurrency); err != nil {
			return fmt.Errorf("mvcc driver: %w", err)
		}
	}

	if driver == "fastpath" || driver == "both" {
		if err := runFastPath(block, c.Int("batch-size")); err != nil {
			return fmt.Errorf("fastpath driver: %w", err)
		}
	}

	return nil
}

// syntheticBlock is a seeded set of accounts and the transfers to run
// against them, shared between both drivers so their reports are
// comparing identical work.
type syntheticBlock struct {
	accounts  []common.Address
	transfers []evmtask.Transfer
}

func buildBlock(n, accounts int, seed int64) syntheticBlock {
	if accounts < 2 {
		accounts = 2
	}

	rng := rand.New(rand.NewSource(seed))

	addrs := make([]common.Address, accounts)
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}

	transfers := make([]evmtask.Transfer, n)

	for i := range transfers {
		from := addrs[rng.Intn(accounts)]

		to := addrs[rng.Intn(accounts)]
		for to == from {
			to = addrs[rng.Intn(accounts)]
		}

		transfers[i] = evmtask.Transfer{
			From:  from,
			To:    to,
			Value: uint256.NewInt(uint64(1 + rng.Intn(1000))),
		}

		if rng.Intn(4) == 0 {
			transfers[i].HasStorage = true
			transfers[i].StorageAddr = from
			transfers[i].StorageSlot = common.BigToHash(big.NewInt(int64(rng.Intn(16))))
			transfers[i].StorageVal = common.BigToHash(big.NewInt(int64(rng.Intn(1 << 20))))
		}
	}

	return syntheticBlock{accounts: addrs, transfers: transfers}
}

func seededBase(b syntheticBlock) *baseview.Memory {
	mem := baseview.NewMemory()

	startBalance := uint256.NewInt(1_000_000)
	startBalanceBytes := startBalance.Bytes32()

	zero := uint256.NewInt(0).Bytes32()

	for _, addr := range b.accounts {
		mem.Set(blockstm.BalanceKey(addr), startBalanceBytes[:])
		mem.Set(blockstm.NonceKey(addr), zero[:])
	}

	return mem
}

func runMVCC(b syntheticBlock, concurrency int) error {
	base := seededBase(b)

	tasks := make([]blockstm.ExecutorTask, len(b.transfers))
	for i, t := range b.transfers {
		tasks[i] = t
	}

	stats := blockstm.NewStatsRecorder()

	start := time.Now()

	results, io, err := blockstm.ExecuteBlockWithStats(context.Background(), tasks, base, concurrency, stats)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	committed, failed := 0, 0

	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			committed++
		}
	}

	incarnations := 0
	for _, s := range stats.Snapshot() {
		incarnations += s.Incarnation
	}

	fmt.Printf("mvcc:     concurrency=%-3d txns=%-6d committed=%-6d failed=%-4d re-executions=%-5d elapsed=%s\n",
		maxInt(concurrency, 1), len(b.transfers), committed, failed, incarnations, elapsed)

	if io != nil {
		blockstm.BuildDAG(*io).Report(stats.Snapshot(), func(line string) {
			fmt.Printf("mvcc:     %s\n", line)
		})
	}

	return nil
}

func runFastPath(b syntheticBlock, batchSize int) error {
	base := seededBase(b)

	tasks := make([]fastpath.Task, len(b.transfers))
	for i, t := range b.transfers {
		tasks[i] = evmtask.FastTransfer(t)
	}

	start := time.Now()

	results, err := fastpath.Execute(context.Background(), tasks, base, fastpath.Config{BatchSize: batchSize})
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	fmt.Printf("fastpath: batchSize=%-3d txns=%-6d committed=%-6d elapsed=%s\n",
		batchSize, len(b.transfers), len(results), elapsed)

	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
