// Package inventory provides options for the inventory pipelines.
package inventory

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/inventory-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains pipeline tuning for ingestion, querying and caching.
type Options struct {
	// TopK is the number of hits retrieved per question.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// IngestConcurrency bounds concurrent item embedding per ingestion run.
	IngestConcurrency int `json:"ingest-concurrency" mapstructure:"ingest-concurrency"`

	// BuildTimeout bounds a background tenant build.
	BuildTimeout time.Duration `json:"build-timeout" mapstructure:"build-timeout"`

	// BuildFailureTTL is how long a failed background build is reported to queries before a retry.
	BuildFailureTTL time.Duration `json:"build-failure-ttl" mapstructure:"build-failure-ttl"`

	// BackgroundWorkers is the capacity of the background build pool.
	BackgroundWorkers int `json:"background-workers" mapstructure:"background-workers"`

	Retry   *RetryOptions   `json:"retry" mapstructure:"retry"`
	Cache   *CacheOptions   `json:"cache" mapstructure:"cache"`
	Breaker *BreakerOptions `json:"breaker" mapstructure:"breaker"`
}

// RetryOptions configures retries around embedding calls and index upserts.
type RetryOptions struct {
	MaxAttempts  int           `json:"max-attempts" mapstructure:"max-attempts"`
	InitialDelay time.Duration `json:"initial-delay" mapstructure:"initial-delay"`
	MaxDelay     time.Duration `json:"max-delay" mapstructure:"max-delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier"`
}

// CacheOptions configures the Redis backed caches. Both require redis.enabled.
type CacheOptions struct {
	AnswerTTL      time.Duration `json:"answer-ttl" mapstructure:"answer-ttl"`
	AnswerPrefix   string        `json:"answer-prefix" mapstructure:"answer-prefix"`
	EmbeddingTTL   time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	EmbeddingCache bool          `json:"embedding-cache" mapstructure:"embedding-cache"`
}

// BreakerOptions configures the circuit breaker in front of the completion service.
type BreakerOptions struct {
	MaxFailures      int           `json:"max-failures" mapstructure:"max-failures"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	HalfOpenMaxCalls int           `json:"half-open-max-calls" mapstructure:"half-open-max-calls"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		TopK:              5,
		IngestConcurrency: 4,
		BuildTimeout:      10 * time.Minute,
		BuildFailureTTL:   30 * time.Second,
		BackgroundWorkers: 50,
		Retry: &RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 4 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
		Cache: &CacheOptions{
			AnswerTTL:      10 * time.Minute,
			AnswerPrefix:   "inventory:answer:",
			EmbeddingTTL:   24 * time.Hour,
			EmbeddingCache: true,
		},
		Breaker: &BreakerOptions{
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "inventory."
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Number of inventory items retrieved per question.")
	fs.IntVar(&o.IngestConcurrency, p+"ingest-concurrency", o.IngestConcurrency, "Concurrent item embeddings per ingestion run.")
	fs.DurationVar(&o.BuildTimeout, p+"build-timeout", o.BuildTimeout, "Deadline of a background tenant index build.")
	fs.DurationVar(&o.BuildFailureTTL, p+"build-failure-ttl", o.BuildFailureTTL, "How long a failed background build is returned to queries before it is retried.")
	fs.IntVar(&o.BackgroundWorkers, p+"background-workers", o.BackgroundWorkers, "Capacity of the background build pool.")

	fs.IntVar(&o.Retry.MaxAttempts, p+"retry.max-attempts", o.Retry.MaxAttempts, "Maximum attempts for embedding calls and index upserts.")
	fs.DurationVar(&o.Retry.InitialDelay, p+"retry.initial-delay", o.Retry.InitialDelay, "Backoff before the second attempt.")
	fs.DurationVar(&o.Retry.MaxDelay, p+"retry.max-delay", o.Retry.MaxDelay, "Upper bound of a single backoff.")
	fs.Float64Var(&o.Retry.Multiplier, p+"retry.multiplier", o.Retry.Multiplier, "Backoff growth factor.")

	fs.DurationVar(&o.Cache.AnswerTTL, p+"cache.answer-ttl", o.Cache.AnswerTTL, "Lifetime of a cached answer.")
	fs.StringVar(&o.Cache.AnswerPrefix, p+"cache.answer-prefix", o.Cache.AnswerPrefix, "Redis key prefix of cached answers.")
	fs.DurationVar(&o.Cache.EmbeddingTTL, p+"cache.embedding-ttl", o.Cache.EmbeddingTTL, "Lifetime of a cached embedding.")
	fs.BoolVar(&o.Cache.EmbeddingCache, p+"cache.embedding-cache", o.Cache.EmbeddingCache, "Cache embeddings in Redis.")

	fs.IntVar(&o.Breaker.MaxFailures, p+"breaker.max-failures", o.Breaker.MaxFailures, "Consecutive completion failures that open the breaker.")
	fs.DurationVar(&o.Breaker.Timeout, p+"breaker.timeout", o.Breaker.Timeout, "Time the breaker stays open before probing.")
	fs.IntVar(&o.Breaker.HalfOpenMaxCalls, p+"breaker.half-open-max-calls", o.Breaker.HalfOpenMaxCalls, "Probe calls allowed while half-open.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("inventory.top-k must be positive"))
	}
	if o.IngestConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("inventory.ingest-concurrency must be positive"))
	}
	if o.BuildTimeout <= 0 {
		errs = append(errs, fmt.Errorf("inventory.build-timeout must be positive"))
	}
	if o.BuildFailureTTL <= 0 {
		errs = append(errs, fmt.Errorf("inventory.build-failure-ttl must be positive"))
	}
	if o.BackgroundWorkers <= 0 {
		errs = append(errs, fmt.Errorf("inventory.background-workers must be positive"))
	}
	if o.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("inventory.retry.max-attempts must be at least 1"))
	}
	if o.Retry.InitialDelay < 0 || o.Retry.MaxDelay < o.Retry.InitialDelay {
		errs = append(errs, fmt.Errorf("inventory.retry delays must satisfy 0 <= initial-delay <= max-delay"))
	}
	if o.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("inventory.retry.multiplier must be at least 1"))
	}
	if o.Cache.AnswerTTL <= 0 || o.Cache.EmbeddingTTL <= 0 {
		errs = append(errs, fmt.Errorf("inventory.cache TTLs must be positive"))
	}
	if o.Breaker.MaxFailures <= 0 || o.Breaker.HalfOpenMaxCalls <= 0 || o.Breaker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inventory.breaker settings must be positive"))
	}
	return errs
}

// Complete fills nested sections left nil by a partial config file.
func (o *Options) Complete() error {
	defaults := NewOptions()
	if o.Retry == nil {
		o.Retry = defaults.Retry
	}
	if o.Cache == nil {
		o.Cache = defaults.Cache
	}
	if o.Breaker == nil {
		o.Breaker = defaults.Breaker
	}
	return nil
}
