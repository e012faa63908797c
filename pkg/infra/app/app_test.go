package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type milvusSection struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testOptions struct {
	Milvus   milvusSection `mapstructure:"milvus"`
	TopK     int           `mapstructure:"top-k"`
	complete bool
	invalid  bool
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("milvus")
	fs.StringVar(&o.Milvus.Address, "milvus.address", o.Milvus.Address, "address")
	fs.DurationVar(&o.Milvus.Timeout, "milvus.timeout", o.Milvus.Timeout, "timeout")
	fss.FlagSet("inventory").IntVar(&o.TopK, "top-k", o.TopK, "top k")
	return fss
}

func (o *testOptions) Complete() error {
	o.complete = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid")
	}
	return nil
}

func newTestOptions() *testOptions {
	return &testOptions{
		Milvus: milvusSection{Address: "localhost:19530", Timeout: time.Second},
		TopK:   5,
	}
}

func run(t *testing.T, opts *testOptions, args ...string) error {
	t.Helper()
	var ran bool
	a := NewApp(
		WithName("inventory-rag-test"),
		WithOptions(opts),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs(args)
	err := a.Command().Execute()
	if err == nil {
		assert.True(t, ran)
	}
	return err
}

func TestAppDefaults(t *testing.T) {
	opts := newTestOptions()
	require.NoError(t, run(t, opts))

	assert.Equal(t, "localhost:19530", opts.Milvus.Address)
	assert.Equal(t, 5, opts.TopK)
	assert.True(t, opts.complete)
}

func TestAppEnvOverridesDefault(t *testing.T) {
	t.Setenv("INVENTORY_RAG_TEST_MILVUS_ADDRESS", "milvus:19530")
	t.Setenv("INVENTORY_RAG_TEST_TOP_K", "8")

	opts := newTestOptions()
	require.NoError(t, run(t, opts))

	assert.Equal(t, "milvus:19530", opts.Milvus.Address)
	assert.Equal(t, 8, opts.TopK)
}

func TestAppFlagOverridesEnv(t *testing.T) {
	t.Setenv("INVENTORY_RAG_TEST_TOP_K", "8")

	opts := newTestOptions()
	require.NoError(t, run(t, opts, "--top-k=3"))

	assert.Equal(t, 3, opts.TopK)
}

func TestAppConfigFileWithEnvExpansion(t *testing.T) {
	t.Setenv("MILVUS_HOST", "vector-db")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "milvus:\n  address: ${MILVUS_HOST}:19530\n  timeout: 5s\ntop-k: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	opts := newTestOptions()
	require.NoError(t, run(t, opts, "-c", path))

	assert.Equal(t, "vector-db:19530", opts.Milvus.Address)
	assert.Equal(t, 5*time.Second, opts.Milvus.Timeout)
	assert.Equal(t, 7, opts.TopK)
}

func TestAppValidationError(t *testing.T) {
	opts := newTestOptions()
	opts.invalid = true
	assert.Error(t, run(t, opts))
}
