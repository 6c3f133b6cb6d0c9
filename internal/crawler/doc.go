// Package crawler defines the domain model shared by the crawl, indexing and
// search subsystems: sites, pages, lemmas and postings, plus the ports
// (Store, Fetcher, Analyzer, Publisher) the core depends on.
package crawler
