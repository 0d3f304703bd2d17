package logging

import (
	"log/slog"
)

/*
Log attribute keys shared by several packages. Prefer the constructor
functions below over using the keys directly.
*/
const (
	ErrorKey    = "err"
	ProofKey    = "proof"
	SplitterKey = "splitter"
	PayerKey    = "payer"
	ResourceKey = "resource"
)

/*
Error adds error to the log

	if err := f(); err != nil {
		log.Error("calling f", logging.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

// Proof identifies the ledger signature presented as payment proof.
func Proof(signature string) slog.Attr {
	return slog.String(ProofKey, signature)
}

// Splitter identifies the splitter account the log line is about.
func Splitter(id string) slog.Attr {
	return slog.String(SplitterKey, id)
}

func Payer(address string) slog.Attr {
	return slog.String(PayerKey, address)
}

func Resource(uri string) slog.Attr {
	return slog.String(ResourceKey, uri)
}
