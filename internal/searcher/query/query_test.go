package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSynonyms(t *testing.T, groups ...[]string) *Synonyms {
	t.Helper()
	s, err := NewSynonyms(groups)
	require.NoError(t, err)
	return s
}

func TestProcessEmpty(t *testing.T) {
	p := NewProcessor(nil)
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := p.Process(raw)
		assert.ErrorIs(t, err, apperrors.ErrEmptyQuery, "input %q", raw)
	}

	q, err := p.Process("a !")
	require.NoError(t, err)
	assert.True(t, q.Empty())
}

func TestProcessMatchesIndexTokenizer(t *testing.T) {
	p := NewProcessor(nil)
	q, err := p.Process("  套房定義 ")
	require.NoError(t, err)
	assert.Equal(t, "套房定義", q.Normalized)
	assert.Equal(t, []string{"套房", "定義", "房定"}, q.Terms)
	assert.Equal(t, q.Terms, q.ExpandedTerms)
}

func TestProcessFoldsWidth(t *testing.T) {
	p := NewProcessor(nil)
	q, err := p.Process("ＡＭＬ　規定")
	require.NoError(t, err)
	assert.Equal(t, "aml 規定", q.Normalized)
	assert.Equal(t, []string{"aml", "規定"}, q.Terms)
}

func TestSynonymExpansion(t *testing.T) {
	p := NewProcessor(mustSynonyms(t,
		[]string{"套房", "小套房"},
		[]string{"洗錢防制", "AML"},
	))

	q, err := p.Process("套房")
	require.NoError(t, err)
	assert.Equal(t, []string{"套房"}, q.Terms)
	assert.Equal(t, []string{"套房", "小套"}, q.ExpandedTerms)

	q, err = p.Process("aml 申報")
	require.NoError(t, err)
	assert.Contains(t, q.ExpandedTerms, "洗錢")
	assert.Contains(t, q.ExpandedTerms, "防制")
	assert.Contains(t, q.ExpandedTerms, "申報")

	q, err = p.Process("xaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"xaml"}, q.ExpandedTerms, "latin phrases match whole terms only")
}

func TestSynonymsValidation(t *testing.T) {
	_, err := NewSynonyms([][]string{{"套房"}})
	assert.Error(t, err)

	_, err = NewSynonyms([][]string{{"套房", "套房 "}})
	assert.Error(t, err, "duplicates collapse to a single phrase")

	_, err = NewSynonyms([][]string{{"套房", "!"}})
	assert.Error(t, err)

	s := mustSynonyms(t, []string{"外匯", "匯兌"}, []string{"網路銀行", "網銀"})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"匯兌"}, s.Lookup("外匯"))
	assert.Empty(t, s.Lookup("存款"))
}

func TestBundledSynonymsParse(t *testing.T) {
	s, err := LoadSynonyms("../../../configs/synonyms.yaml")
	require.NoError(t, err)
	assert.Greater(t, s.Len(), 3)
	assert.Contains(t, s.Lookup("套房"), "小套房")
}

func TestLastWord(t *testing.T) {
	p := NewProcessor(nil)
	cases := [][2]string{
		{"regul", "regul"},
		{"aml regul", "regul"},
		{"套房regul", "regul"},
		{"套房", ""},
		{"regul 套房", ""},
		{"aml, rep", "rep"},
		{"ＲＥＧ", "reg"},
	}
	for _, c := range cases {
		q, err := p.Process(c[0])
		require.NoError(t, err)
		assert.Equal(t, c[1], q.LastWord(), "input %q", c[0])
	}
}

func TestDisplayWidth(t *testing.T) {
	assert.Equal(t, 2, DisplayWidth("套"))
	assert.Equal(t, 4, DisplayWidth("套房"))
	assert.Equal(t, 3, DisplayWidth("abc"))
	assert.Equal(t, 2, DisplayWidth("ab"))
	assert.Equal(t, 4, DisplayWidth("ＡＢ"))
	assert.Zero(t, DisplayWidth(""))
}

func TestWatchSynonymsReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - [套房, 小套房]\n"), 0o644))

	syn, err := LoadSynonyms(path)
	require.NoError(t, err)
	p := NewProcessor(syn)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.WatchSynonyms(ctx, path, m))

	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - [套房, 小套房]\n  - [外匯, 匯兌]\n"), 0o644))
	assert.Eventually(t, func() bool { return p.Synonyms().Len() == 2 }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("groups: [[broken"), 0o644))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SynonymReloadsTotal.WithLabelValues("error")) >= 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 2, p.Synonyms().Len(), "a bad file keeps the previous table")
}
