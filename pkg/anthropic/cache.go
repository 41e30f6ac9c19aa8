package anthropic

// CachedSystem builds a single system block marked for prompt caching. The
// verification and reconciliation instructions are identical across chunks
// of a document, so later chunks read them from cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: "5m"},
	}}
}
