package core

import "errors"

// ErrNoSamples reports generator output with nothing to process: a missing
// questions root, no domain-task directory, or zero accepted samples.
// Fatal for the task; the queue layer decides on redelivery.
var ErrNoSamples = errors.New("no sample output found")
