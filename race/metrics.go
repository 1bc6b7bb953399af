package race

import "math"

// WPM returns whole words-per-minute for a typed character count, using
// the usual five-characters-per-word convention. Zero elapsed time means
// zero WPM.
func WPM(charactersTyped int, secondsElapsed float64) int {
	if secondsElapsed == 0 {
		return 0
	}
	return int(math.Round(float64(charactersTyped) / 5 / (secondsElapsed / 60)))
}

// Accuracy returns the percentage of correctly typed characters, rounded
// to the nearest integer. An empty sample counts as 100%.
func Accuracy(correct, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}
