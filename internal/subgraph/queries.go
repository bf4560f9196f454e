package subgraph

// The query documents for each supported deployment, with their default
// data keys. The pagination variables are injected by Get/Rotate.

// SafesQuery pulls every node registered in the safe registry together
// with its safe's balance, allowance and owners.
const SafesQuery = `query ($first: Int!, $skip: Int!) {
  registeredNodesInSafeRegistry(first: $first, skip: $skip) {
    node { id }
    safe {
      id
      balance { wxHoprBalance }
      allowance { wxHoprAllowance }
      owners { owner { id } }
    }
  }
}`

// SafesKey is the data key of SafesQuery's result array.
const SafesKey = "registeredNodesInSafeRegistry"

// RewardsQuery pulls every account's already-redeemed ticket value.
const RewardsQuery = `query ($first: Int!, $skip: Int!) {
  accounts(first: $first, skip: $skip) {
    id
    redeemedValue
  }
}`

// RewardsKey is the data key of RewardsQuery's result array.
const RewardsKey = "accounts"
