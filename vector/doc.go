// Package vector implements the embedding index: a map from key to vector
// with precomputed norms, searched by brute-force cosine similarity with a
// bounded top-k heap.
package vector
