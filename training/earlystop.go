package training

// EarlyStopping is the validation-based stopping policy: it compares a new
// validation score against the best seen so far and advances the patience
// counter. It is a pure function; callers own persistence of the returned
// values.
//
// When bigger is true an increase counts as improvement, otherwise a
// decrease does. On improvement the best score is replaced and the counter
// resets to zero; otherwise the counter increments by exactly one. stop is
// set once the counter reaches maxStep; a non-positive maxStep disables
// stopping.
func EarlyStopping(value, best float64, curStep, maxStep int, bigger bool) (newBest float64, newCurStep int, stop, improved bool) {
	if bigger {
		improved = value > best
	} else {
		improved = value < best
	}
	if improved {
		return value, 0, false, true
	}
	newCurStep = curStep + 1
	stop = maxStep > 0 && newCurStep >= maxStep
	return best, newCurStep, stop, false
}
