package vectorstore

import (
	"ifengine/internal/logging"
)

// AccelModule mirrors the native-accelerated popcount ABI: an opaque module
// exporting a Hamming-distance function over a shared linear-memory region
// under one of the names hamming, hamming_distance, hammingDistance, or
// popcount_xor. Since the store owns copying both packed vectors into that
// memory, the Go-side contract collapses to a plain byte-slice function; a
// real cross-language module would be adapted to this shape at its call
// site without changing anything downstream of AccelModule.
type AccelModule interface {
	// Hamming returns the Hamming distance between two equal-length packed
	// vectors, and false if the module failed to compute it (in which case
	// the caller falls back and disables the module for the session).
	Hamming(a, b []byte) (distance int, ok bool)
	// Name identifies the module for logging.
	Name() string
}

// softwareAccel is the always-available reference implementation: the same
// byte-wise XOR + 256-entry table the pure fallback path uses, wrapped so
// EnableAccel has a working default when no cross-language module is wired.
// A real native/cgo/wasm module would replace this at construction time.
type softwareAccel struct{}

func (softwareAccel) Hamming(a, b []byte) (int, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	return hammingFallback(a, b), true
}

func (softwareAccel) Name() string { return "software-popcount-table" }

// accelHandle wraps an AccelModule with the store's own permanent-fallback
// bookkeeping: once a module fails, later calls skip straight to the
// fallback for the rest of the store handle's lifetime.
type accelHandle struct {
	module     AccelModule
	fellBack   bool
	storeName  string
}

// EnableAccel installs a native-accelerated Hamming module. Per the Open
// Question resolution in DESIGN.md, a module that is nil or fails on its
// first real call logs a warning and disables itself permanently for this
// store handle — EnableAccel itself never fails.
func (s *Store) EnableAccel(module AccelModule) {
	if module == nil {
		logging.VectorStoreWarn("vectorstore %q: EnableAccel called with nil module, using fallback", s.cfg.Name)
		return
	}
	s.nextAccel = &accelHandle{module: module, storeName: s.cfg.Name}
	logging.VectorStore("vectorstore %q: accel module %q enabled", s.cfg.Name, module.Name())
}

// hamming computes the Hamming distance using the accelerated module if one
// is enabled and hasn't yet failed, otherwise the in-language fallback.
func (s *Store) hamming(a, b []byte) int {
	if s.nextAccel != nil && !s.nextAccel.fellBack {
		dist, ok := s.nextAccel.module.Hamming(a, b)
		if ok {
			return dist
		}
		s.nextAccel.fellBack = true
		logging.VectorStoreWarn("vectorstore %q: accel module %q failed, falling back to lookup-table popcount for remainder of session",
			s.nextAccel.storeName, s.nextAccel.module.Name())
	}
	return hammingFallback(a, b)
}

var _ AccelModule = softwareAccel{}

// DefaultAccelModule returns the always-available reference implementation.
func DefaultAccelModule() AccelModule { return softwareAccel{} }
