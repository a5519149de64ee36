/*
 * SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

func TestClassify(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want ErrorClass
	}{
		"checksum mismatch is a validation failure": {
			err:  fmt.Errorf("upload: %w", redfish.ErrChecksumMismatch),
			want: ValidationFailure,
		},
		"rejected credentials are an auth failure": {
			err:  redfish.ErrUnauthorized,
			want: AuthenticationFailure,
		},
		"evacuation timeout": {
			err:  fmt.Errorf("enter maintenance: %w", vsphere.ErrEvacuationFailed),
			want: EvacuationFailure,
		},
		"marked transient": {
			err:  redfish.Transient(errors.New("connection reset")),
			want: TransientNetwork,
		},
		"busy controller retries": {
			err:  redfish.ErrBusy,
			want: TransientNetwork,
		},
		"unknown errors default to transient": {
			err:  errors.New("something odd"),
			want: TransientNetwork,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
