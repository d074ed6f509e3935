package dispute

import "math/big"

// SplitAward divides the escrowed amount according to the concluded outcome.
// A draw settles as an even split; with odd amounts the indivisible unit goes
// to the buyer, mirroring how milestone flooring keeps dust with the payer.
func SplitAward(amount *big.Int, outcome Outcome) (buyer, seller *big.Int) {
	buyer = big.NewInt(0)
	seller = big.NewInt(0)
	if amount == nil || amount.Sign() <= 0 {
		return buyer, seller
	}
	switch outcome {
	case OutcomeBuyerWins:
		buyer = new(big.Int).Set(amount)
	case OutcomeSellerWins:
		seller = new(big.Int).Set(amount)
	case OutcomeDraw:
		seller = new(big.Int).Rsh(amount, 1)
		buyer = new(big.Int).Sub(amount, seller)
	}
	return buyer, seller
}
