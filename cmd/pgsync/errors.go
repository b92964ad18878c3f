// SPDX-License-Identifier: Apache-2.0

package pgsync

import "errors"

var errNoTablesSelected = errors.New("pgsync: no tables given, pass --tables")
