// tools/rulegen/main.go

package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// fieldsByRecord mirrors the shape of a realistic transaction/profile
// schema without pinning it to any specific fraud model; rulegen just
// needs plausible field names to compose comparisons against.
var fieldsByRecord = map[string][]string{
	"txn": {
		"amount", "merchant_risk", "hour_of_day", "distance_from_home",
		"is_foreign", "card_present", "velocity_1h", "velocity_24h",
	},
	"profile": {
		"avg_amount", "account_age_days", "fraud_score", "chargeback_count",
		"trust_level", "total", "count", "n",
	},
}

var comparisonOps = []string{">", ">=", "<", "<=", "==", "!="}

func randomField() (record, field string) {
	records := []string{"txn", "profile"}
	record = records[rand.Intn(len(records))]
	fields := fieldsByRecord[record]
	return record, fields[rand.Intn(len(fields))]
}

func randomThreshold() string {
	if rand.Float32() < 0.5 {
		return fmt.Sprintf("%d", gofakeit.Number(0, 5000))
	}
	return fmt.Sprintf("%.2f", gofakeit.Float64Range(0, 1))
}

func generateCondition(depth int) string {
	if depth > 2 || rand.Float32() < 0.6 {
		record, field := randomField()
		op := comparisonOps[rand.Intn(len(comparisonOps))]
		return fmt.Sprintf("%s.%s %s %s", record, field, op, randomThreshold())
	}

	numClauses := rand.Intn(2) + 2
	clauses := make([]string, numClauses)
	for i := range clauses {
		clauses[i] = generateCondition(depth + 1)
	}
	joiner := " && "
	if rand.Float32() < 0.5 {
		joiner = " || "
	}
	return "(" + strings.Join(clauses, joiner) + ")"
}

func generateAction() string {
	switch rand.Intn(4) {
	case 0:
		return fmt.Sprintf("setFraudScore(%.2f);", gofakeit.Float64Range(0, 1))
	case 1:
		return fmt.Sprintf("setDecision(%q);", []string{"ALLOW", "BLOCK", "REVIEW"}[rand.Intn(3)])
	case 2:
		return fmt.Sprintf("createComment(%q);", gofakeit.Sentence(4))
	default:
		return fmt.Sprintf("createCase(%q, %q);", []string{"low", "medium", "high"}[rand.Intn(3)], gofakeit.Sentence(3))
	}
}

func generateRule(index int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %q {\n", fmt.Sprintf("generated_rule_%d", index))
	fmt.Fprintf(&b, "  priority: %d,\n", rand.Intn(100)+1)
	fmt.Fprintf(&b, "  if (%s) {\n", generateCondition(0))
	numActions := rand.Intn(2) + 1
	for i := 0; i < numActions; i++ {
		fmt.Fprintf(&b, "    %s\n", generateAction())
	}
	b.WriteString("  }\n}\n")
	return b.String()
}

func main() {
	numRules := flag.Int("rules", 200, "number of rules to generate")
	outputFile := flag.String("output", "generated_rules.dsl", "output file name")
	seed := flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	flag.Parse()

	rand.Seed(*seed)
	gofakeit.Seed(*seed)

	var b strings.Builder
	for i := 1; i <= *numRules; i++ {
		b.WriteString(generateRule(i))
		b.WriteString("\n")
	}

	if err := os.WriteFile(*outputFile, []byte(b.String()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "rulegen: error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d rules. Saved to %s\n", *numRules, *outputFile)
}
