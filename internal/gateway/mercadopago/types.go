package mercadopago

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

type preference struct {
	ID               string
	InitPoint        string
	SandboxInitPoint string
}

func decodePreference(raw []byte) (*preference, error) {
	var p preference
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return str(d, &p.ID)
		case "init_point":
			return str(d, &p.InitPoint)
		case "sandbox_init_point":
			return str(d, &p.SandboxInitPoint)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("missing id")
	}
	return &p, nil
}

// decodePayment maps a /v1/payments/{id} response. PIX payments carry the QR
// code under point_of_interaction.transaction_data; boleto payments carry the
// ticket URL under transaction_details.external_resource_url.
func decodePayment(raw []byte) (*payment.Payment, error) {
	var (
		p          payment.Payment
		status     string
		approvedAt string
	)
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			id, err := decodeID(d)
			p.ID = id
			return err
		case "status":
			return str(d, &status)
		case "status_detail":
			return str(d, &p.StatusDetail)
		case "payment_type_id":
			return str(d, &p.Method)
		case "payment_method_id":
			return str(d, &p.MethodID)
		case "external_reference":
			return str(d, &p.ExternalReference)
		case "date_approved":
			return str(d, &approvedAt)
		case "transaction_amount":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			num, err := d.Num()
			if err != nil {
				return err
			}
			p.Amount, err = decimal.NewFromString(num.String())
			return err
		case "point_of_interaction":
			return object(d, func(d *jx.Decoder, key string) error {
				if key != "transaction_data" {
					return d.Skip()
				}
				return object(d, func(d *jx.Decoder, key string) error {
					switch key {
					case "qr_code":
						return str(d, &p.Artifacts.QRCode)
					case "qr_code_base64":
						return str(d, &p.Artifacts.QRCodeBase64)
					case "ticket_url":
						return str(d, &p.Artifacts.TicketURL)
					default:
						return d.Skip()
					}
				})
			})
		case "transaction_details":
			return object(d, func(d *jx.Decoder, key string) error {
				if key != "external_resource_url" || p.Artifacts.TicketURL != "" {
					return d.Skip()
				}
				return str(d, &p.Artifacts.TicketURL)
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("missing id")
	}

	p.Status = payment.Status(status)
	if approvedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, approvedAt)
		if err != nil {
			return nil, errors.Wrap(err, "parse date_approved")
		}
		p.ApprovedAt = &t
	}
	return &p, nil
}

// str decodes a string field, treating null as empty.
func str(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// object decodes an object field, treating null as empty.
func object(d *jx.Decoder, f func(d *jx.Decoder, key string) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(f)
}
