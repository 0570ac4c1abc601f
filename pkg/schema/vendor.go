/*
Copyright 2026 Numtide.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schema

import (
	"fmt"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
)

// Vendor holds the properties of a database vendor that schema planning
// depends on.
type Vendor struct {
	Name stackv1alpha1.DatabaseVendor
	// MaxSchemaNameLength is the longest identifier the vendor accepts for a
	// schema, which doubles as the user name.
	MaxSchemaNameLength int
	// DefaultAdminUser is the administrative account of a fresh installation.
	DefaultAdminUser string
	// DefaultPort is the port the vendor listens on by default.
	DefaultPort int32
}

var vendors = map[stackv1alpha1.DatabaseVendor]Vendor{
	stackv1alpha1.VendorPostgreSQL: {
		Name:                stackv1alpha1.VendorPostgreSQL,
		MaxSchemaNameLength: 63,
		DefaultAdminUser:    "postgres",
		DefaultPort:         5432,
	},
	stackv1alpha1.VendorMySQL: {
		Name:                stackv1alpha1.VendorMySQL,
		MaxSchemaNameLength: 32,
		DefaultAdminUser:    "root",
		DefaultPort:         3306,
	},
	stackv1alpha1.VendorOracle: {
		Name:                stackv1alpha1.VendorOracle,
		MaxSchemaNameLength: 30,
		DefaultAdminUser:    "system",
		DefaultPort:         1521,
	},
}

// LookupVendor returns the properties of vendor.
func LookupVendor(vendor stackv1alpha1.DatabaseVendor) (Vendor, error) {
	v, ok := vendors[vendor]
	if !ok {
		return Vendor{}, fmt.Errorf("unsupported database vendor %q", vendor)
	}
	return v, nil
}
