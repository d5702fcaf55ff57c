package jamfreport

// SelectLatest returns the version the report compares devices against:
// the first entry of the catalog, exactly as the backend ordered it.
// Versions are not sorted or parsed, so a catalog that is not in
// descending order yields its first entry anyway.
func SelectLatest(catalog []string) (string, error) {
	if len(catalog) == 0 {
		return "", ErrEmptyCatalog
	}
	return catalog[0], nil
}
