package peer

import "errors"

// errNoSafe is returned by SplitStake when no Safe has been linked to the
// peer yet.
var errNoSafe = errors.New("peer: no safe linked")
