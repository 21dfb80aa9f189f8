package jobs

// ClassifyOrigin decides where a discovered posting is hosted. A posting is
// ATS-hosted only when it carries an apply URL that leaves the listing
// surface AND that URL resolved to a known provider; everything else is
// native. The function is total: every input pair maps to exactly one origin.
func ClassifyOrigin(hasExternalApply bool, p Provider) Origin {
	if hasExternalApply && p != ProviderUnknown && p != "" {
		return OriginATS
	}
	return OriginNative
}
