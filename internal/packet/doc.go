// Package packet owns the template-driven wire codec.
//
// Ownership boundary:
// - token variants and their per-type byte semantics
// - template encode/decode orchestration and point lookup
// - byte-sequence flattening and the encoded packet value
package packet
