package core

// Origin is the resolved caller of an operation: either the administrative
// root or a signed account.
type Origin struct {
	root   bool
	signer AccountID
}

func Root() Origin {
	return Origin{root: true}
}

func Signed(who AccountID) Origin {
	return Origin{signer: who}
}

func (o Origin) IsRoot() bool {
	return o.root
}

func (o Origin) ensureRoot() error {
	if !o.root {
		return ErrBadOrigin
	}
	return nil
}

func (o Origin) ensureSigned() (AccountID, error) {
	if o.root {
		return AccountID{}, ErrBadOrigin
	}
	return o.signer, nil
}
