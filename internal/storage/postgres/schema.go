package postgres

// schemaStatements create the tables used by Store. Deleting a site cascades
// to its pages and lemmas; deleting a page or lemma cascades to postings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS site (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	status_time TIMESTAMPTZ NOT NULL,
	last_error TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS page (
	id BIGSERIAL PRIMARY KEY,
	site_id BIGINT NOT NULL REFERENCES site(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	code INTEGER NOT NULL,
	content TEXT NOT NULL,
	UNIQUE (site_id, path)
)`,
	`CREATE TABLE IF NOT EXISTS lemma (
	id BIGSERIAL PRIMARY KEY,
	site_id BIGINT NOT NULL REFERENCES site(id) ON DELETE CASCADE,
	lemma TEXT NOT NULL,
	frequency INTEGER NOT NULL,
	UNIQUE (site_id, lemma)
)`,
	`CREATE INDEX IF NOT EXISTS lemma_lemma_idx ON lemma (lemma)`,
	`CREATE TABLE IF NOT EXISTS search_index (
	id BIGSERIAL PRIMARY KEY,
	page_id BIGINT NOT NULL REFERENCES page(id) ON DELETE CASCADE,
	lemma_id BIGINT NOT NULL REFERENCES lemma(id) ON DELETE CASCADE,
	rank_value DOUBLE PRECISION NOT NULL,
	UNIQUE (page_id, lemma_id)
)`,
	`CREATE INDEX IF NOT EXISTS search_index_lemma_idx ON search_index (lemma_id)`,
}
