// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package main

import "github.com/commercekit/edgeauth/internal/cli"

func main() {
	cli.Execute()
}
