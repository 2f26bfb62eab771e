// Package council implements the multi-agent voting layer: stance-bound
// voters, the four vote-aggregation strategies, and the statistical
// consensus metrics the debate loop stops on.
//
// Stances form a closed enumeration bound at construction time; there is
// no runtime agent registry.
package council
