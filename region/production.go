// +build !debug

package region

// fillregion is a no-op in production builds: make([]byte, n) already
// hands back zeroed memory, and paying to re-zero it on every region
// construction buys nothing outside debug poisoning.
func fillregion(buf []byte) {
}
