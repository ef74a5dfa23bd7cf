package region

// poisonbyte fills freshly reserved arena bytes in debug builds,
// grounded on malloc/util.go's poolblkinit 0xff fill.
const poisonbyte = 0xff
