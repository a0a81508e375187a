package storage

import "strings"

// bagInfix separates a dataset id from the version suffix of its bags:
// "<datasetId>.bag.<suffix>".
const bagInfix = ".bag."

// BagPrefix is the key prefix shared by every bag of a dataset.
func BagPrefix(datasetID string) string {
	return datasetID + bagInfix
}

// IsBagKey reports whether key is listed under the dataset's bag prefix. The
// bare prefix itself counts.
func IsBagKey(datasetID, key string) bool {
	return strings.HasPrefix(key, BagPrefix(datasetID))
}

// CachedFilePrefix is the key prefix of a cached distribution file:
// "<datasetId>-<distributionId>".
func CachedFilePrefix(datasetID, distributionID string) string {
	return datasetID + "-" + distributionID
}
