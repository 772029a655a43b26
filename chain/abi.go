package chain

// Minimal ABIs for the payment vault and the ERC-20 settlement token.
// Only the view functions consumed by the gateway are declared.

const vaultABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "fund", "type": "address"}],
    "name": "getFundAccount",
    "outputs": [
      {"internalType": "uint256", "name": "balance", "type": "uint256"},
      {"internalType": "uint256", "name": "dailySpendingLimit", "type": "uint256"},
      {"internalType": "uint256", "name": "perTransactionLimit", "type": "uint256"},
      {"internalType": "uint256", "name": "todaySpent", "type": "uint256"},
      {"internalType": "uint256", "name": "lastResetDay", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "fund", "type": "address"},
      {"internalType": "address", "name": "bot", "type": "address"}
    ],
    "name": "isBotAuthorized",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "fund", "type": "address"}],
    "name": "getFundPurchases",
    "outputs": [{"internalType": "uint256[]", "name": "", "type": "uint256[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "purchaseId", "type": "uint256"}],
    "name": "getPurchase",
    "outputs": [
      {
        "components": [
          {"internalType": "address", "name": "fund", "type": "address"},
          {"internalType": "address", "name": "bot", "type": "address"},
          {"internalType": "address", "name": "recipient", "type": "address"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"},
          {"internalType": "uint256", "name": "fee", "type": "uint256"},
          {"internalType": "uint256", "name": "timestamp", "type": "uint256"},
          {"internalType": "string", "name": "metadata", "type": "string"}
        ],
        "internalType": "struct AgentPaymentVault.Purchase",
        "name": "",
        "type": "tuple"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "account", "type": "address"}],
    "name": "balanceOf",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "decimals",
    "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  }
]`
