package config

// mergeMaps folds src into dst, mutating dst. When both sides hold a map
// under the same key the merge recurses, so a later source can override one
// nested key without clobbering its siblings. Every other collision is won
// by src outright, maps-over-scalars included.
func mergeMaps(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = val
	}
}
