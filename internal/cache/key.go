package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/StephenDMay/loom/internal/config"
)

// Key computes the deterministic cache key for one stage invocation: a
// SHA-256 fingerprint over the stage identity, its effective configuration,
// and the current values of its interesting input keys. Input keys are
// hashed in sorted order so map iteration cannot perturb the fingerprint;
// absent keys hash distinctly from present-but-empty ones.
func Key(cfg config.EffectiveStageConfig, inputs map[string]string) string {
	h := sha256.New()

	fmt.Fprintf(h, "stage=%s\n", cfg.Stage)
	fmt.Fprintf(h, "provider=%s\n", cfg.Provider)
	fmt.Fprintf(h, "model=%s\n", cfg.Model)
	fmt.Fprintf(h, "temperature=%g\n", cfg.Temperature)
	fmt.Fprintf(h, "max_tokens=%d\n", cfg.MaxTokens)
	fmt.Fprintf(h, "retry_count=%d\n", cfg.RetryCount)
	fmt.Fprintf(h, "timeout=%s\n", cfg.Timeout)
	fmt.Fprintf(h, "required=%t\n", cfg.Required)
	fmt.Fprintf(h, "fallback=%s\n", cfg.FallbackMode)
	fmt.Fprintf(h, "default=%s\n", cfg.DefaultOutput)

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := inputs[k]
		// Length-prefix both parts so concatenation cannot collide.
		fmt.Fprintf(h, "input:%d:%s=%d:", len(k), k, len(v))
		io.WriteString(h, v)
		io.WriteString(h, "\n")
	}

	return hex.EncodeToString(h.Sum(nil))
}
