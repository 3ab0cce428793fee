// Package idempotency derives deterministic keys from a scope and a set
// of parameters, so the same logical operation retried twice produces
// the same key. Used by internal/billing.Collector to give the payment
// provider an idempotency key per collection attempt.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope namespaces the hash so two different operations with
// coincidentally identical params never collide.
type Scope string

const (
	// ScopePayment keys one payment-collection attempt against one invoice.
	ScopePayment Scope = "payment"
)

// Generator generates idempotency keys. Stateless; safe to share.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey sorts params for stable ordering before hashing, so
// map iteration order never changes the result.
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:8]))
}
