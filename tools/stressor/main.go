// tools/stressor/main.go

package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/fraudscore/rex/pkg/runtime"
	"github.com/fraudscore/rex/pkg/store"
)

var (
	redisAddr  string
	updateRate int
)

func init() {
	flag.StringVar(&redisAddr, "redis", "localhost:6379", "Redis address")
	flag.IntVar(&updateRate, "rate", 1, "number of bytecode reloads to publish per second")
}

// synthesize builds a small but varying single-rule DSL source so each
// published bytecode blob differs from the last, exercising a running
// fraudruled instance's hot-swap path under load.
func synthesize(iteration int) string {
	threshold := rand.Intn(5000)
	return fmt.Sprintf(`rule "stress_%d" { priority: 1, if (txn.amount > %d) { setFraudScore(0.5); } }`, iteration, threshold)
}

func main() {
	flag.Parse()

	s, err := store.NewRedisStore(redisAddr, "", 0)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to redis: %v", err))
	}

	fmt.Printf("Connected to Redis at %s\n", redisAddr)
	fmt.Printf("Publishing bytecode reloads at a rate of %d per second\n", updateRate)

	ticker := time.NewTicker(time.Second / time.Duration(updateRate))
	defer ticker.Stop()

	iteration := 0
	for range ticker.C {
		iteration++
		eng, err := runtime.FromDSL(synthesize(iteration))
		if err != nil {
			fmt.Printf("Error compiling synthetic rule: %v\n", err)
			continue
		}

		data, err := eng.ToBytecode()
		if err != nil {
			fmt.Printf("Error encoding bytecode: %v\n", err)
			continue
		}

		if err := s.PublishBytecode(data); err != nil {
			fmt.Printf("Error publishing bytecode: %v\n", err)
			continue
		}

		fmt.Printf("Published reload #%d (%d bytes)\n", iteration, len(data))
	}
}
