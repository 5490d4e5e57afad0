package admin

import (
	"context"
	"testing"

	"github.com/yourusername/edge-proxy/internal/cachepolicy"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

func seedCacheKeys(t *testing.T, store *statestore.MemoryStore, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if err := store.Set(context.Background(), k, `{"value":{}}`, 0); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInvalidateScopeAllRemovesOnlyProxyNamespace(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	seedCacheKeys(t, store, "proxy:GET:/a:x", "proxy:GET:/b:y", "apikeys:key:should-survive")

	inv := NewInvalidator(store)
	result, err := inv.Invalidate(context.Background(), InvalidateRequest{Scope: ScopeAll})
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if result.Matched != 2 || result.Deleted != 2 {
		t.Fatalf("expected 2 matched/deleted, got %+v", result)
	}

	if _, err := store.Get(context.Background(), "apikeys:key:should-survive"); err != nil {
		t.Fatal("expected the non-proxy namespace key to survive scope=all")
	}
}

func TestInvalidateDryRunDoesNotDelete(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	seedCacheKeys(t, store, "proxy:GET:/a:x")

	inv := NewInvalidator(store)
	result, err := inv.Invalidate(context.Background(), InvalidateRequest{Scope: ScopeAll, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched != 1 || result.Deleted != 0 {
		t.Fatalf("expected matched=1 deleted=0 for dry run, got %+v", result)
	}
	if _, err := store.Get(context.Background(), "proxy:GET:/a:x"); err != nil {
		t.Fatal("dry run must not delete anything")
	}
}

func TestInvalidatePrefixScopeRejectsQueryString(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	inv := NewInvalidator(store)
	_, err := inv.Invalidate(context.Background(), InvalidateRequest{Scope: ScopePrefix, PathPrefix: "/pst?x=1"})
	if err == nil {
		t.Fatal("expected an error for a pathPrefix containing a query string")
	}
}

func TestInvalidatePrefixScopeMatchesOnlyThatPrefix(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	seedCacheKeys(t, store,
		"proxy:GET:/pst/find:x",
		"proxy:GET:/pst/other:y",
		"proxy:GET:/other/path:z",
	)

	inv := NewInvalidator(store)
	result, err := inv.Invalidate(context.Background(), InvalidateRequest{Scope: ScopePrefix, PathPrefix: "/pst"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched != 2 {
		t.Fatalf("expected 2 matches under /pst, got %+v", result)
	}
}

func TestInvalidateExactNonStrictMatchesAllHeaderVariants(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	seedCacheKeys(t, store,
		"proxy:GET:/pst/find?searchWord=x:variantA",
		"proxy:GET:/pst/find?searchWord=x:variantB",
	)

	inv := NewInvalidator(store)
	result, err := inv.Invalidate(context.Background(), InvalidateRequest{Scope: ScopeExact, Path: "/pst/find?searchWord=x"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched != 2 || result.Deleted != 2 {
		t.Fatalf("expected both header variants to match, got %+v", result)
	}
}

func TestInvalidateExactStrictRecomputesSingleKey(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	inv := NewInvalidator(store)

	req := InvalidateRequest{
		Scope:  ScopeExact,
		Strict: true,
		Path:   "/pst/find?searchWord=x",
		Headers: HeaderComponents{
			Accept:         "*/*",
			AcceptLanguage: "de-DE",
			APIKey:         "raw-key-value",
		},
	}

	missing, err := inv.Invalidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if missing.Matched != 0 {
		t.Fatalf("expected no match before seeding, got %+v", missing)
	}

	key := cachepolicy.BuildKey("GET", req.Path, cachepolicy.Headers{
		"accept":          req.Headers.Accept,
		"accept-language": req.Headers.AcceptLanguage,
		"api_key":         req.Headers.APIKey,
	})
	otherVariant := "proxy:GET:/pst/find?searchWord=x:other-variant"
	seedCacheKeys(t, store, key, otherVariant)

	hit, err := inv.Invalidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if hit.Matched != 1 || hit.Deleted != 1 {
		t.Fatalf("expected the recomputed key to match and be deleted, got %+v", hit)
	}
	if _, err := store.Get(context.Background(), otherVariant); err != nil {
		t.Fatal("strict invalidation must leave other header variants in place")
	}
}

func TestEscapeGlobEscapesMetaCharacters(t *testing.T) {
	out := escapeGlob("a*b?c[d]e\\f")
	want := `a\*b\?c\[d\]e\\f`
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestNormalizePrefixCollapsesSlashes(t *testing.T) {
	if got := normalizePrefix("pst//find/"); got != "/pst/find" {
		t.Fatalf("got %q", got)
	}
}
