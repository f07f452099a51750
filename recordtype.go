// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

// RecordType enumerates the known frame head record types
type RecordType byte

const (
	// RecordTypeInvalid is not usable and if sent will abort the muxer
	RecordTypeInvalid = RecordType(0x00)
	// RecordTypeRequest opens a stream: interaction mode, route name, then the first payload
	RecordTypeRequest = RecordType(0x01)
	// RecordTypeError terminates a stream with an error code and message
	RecordTypeError = RecordType(0x02)
	// RecordTypeUserFirst is the first record type value reserved for user records
	RecordTypeUserFirst = RecordType(0x80)
)
