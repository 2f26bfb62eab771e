package rag

// calibrationK controls how fast similarity decays with vector distance.
const calibrationK = 0.1

// CalibrateSimilarity converts a raw vector distance into a bounded
// similarity score: 1/(1 + d*k). Distance 0 maps to 1.0 and large
// distances decay toward 0 without ever reaching it, so ranking rather
// than thresholding determines relevance. Negative distances are treated
// as 0.
func CalibrateSimilarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance*calibrationK)
}
