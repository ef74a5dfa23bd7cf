// +build debug

package region

// fillregion poisons freshly reserved arena bytes with a recognizable
// non-zero pattern so a bug that reads an unwritten version shows up
// as garbage instead of plausible-looking zeros.
func fillregion(buf []byte) {
	for i := range buf {
		buf[i] = poisonbyte
	}
}
