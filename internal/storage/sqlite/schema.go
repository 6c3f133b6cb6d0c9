package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS site (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    status_time DATETIME NOT NULL,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL REFERENCES site(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    code INTEGER NOT NULL,
    content TEXT NOT NULL,
    UNIQUE (site_id, path)
);

CREATE TABLE IF NOT EXISTS lemma (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL REFERENCES site(id) ON DELETE CASCADE,
    lemma TEXT NOT NULL,
    frequency INTEGER NOT NULL,
    UNIQUE (site_id, lemma)
);
CREATE INDEX IF NOT EXISTS idx_lemma_lemma ON lemma(lemma);

-- Inverted index: one row per (page, lemma) with the occurrence count.
CREATE TABLE IF NOT EXISTS search_index (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL REFERENCES page(id) ON DELETE CASCADE,
    lemma_id INTEGER NOT NULL REFERENCES lemma(id) ON DELETE CASCADE,
    rank_value REAL NOT NULL,
    UNIQUE (page_id, lemma_id)
);
CREATE INDEX IF NOT EXISTS idx_search_index_lemma ON search_index(lemma_id);
`
