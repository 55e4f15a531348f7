// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dtncore

import "errors"

// Errors returned by the bundle processor's pipeline operations.
var (
	ErrNoCoreReference             = errors.New("dtncore: no core reference")
	ErrInvalidSource               = errors.New("dtncore: source is not a local endpoint")
	ErrBundleExpired               = errors.New("dtncore: bundle lifetime expired")
	ErrDuplicateBundle             = errors.New("dtncore: duplicate bundle reception")
	ErrBundleDeleted               = errors.New("dtncore: bundle deleted due to an unintelligible block")
	ErrInvalidAdministrativeRecord = errors.New("dtncore: invalid administrative record")
	ErrNoLocalEndpoint             = errors.New("dtncore: destination is not a local endpoint")
)
