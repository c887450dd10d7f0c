package mercadopago

import (
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// ParseNotification decodes a webhook delivery.
//
// The JSON body {"id", "type", "action", "data": {"id"}} is preferred; ids may
// be strings or numbers. Legacy IPN deliveries carry only query parameters
// (topic and id, or type and data.id), which fill whatever the body lacks.
func ParseNotification(body []byte, query url.Values) (payment.Notification, error) {
	var n payment.Notification
	if len(body) > 0 {
		if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				n.ID, err = decodeID(d)
			case "type":
				n.Type, err = d.Str()
			case "action":
				n.Action, err = d.Str()
			case "data":
				err = d.Obj(func(d *jx.Decoder, key string) error {
					if key != "id" {
						return d.Skip()
					}
					var err error
					n.PaymentID, err = decodeID(d)
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return payment.Notification{}, errors.Wrap(err, "decode notification")
		}
	}

	if n.Type == "" {
		n.Type = firstOf(query.Get("type"), query.Get("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = firstOf(query.Get("data.id"), query.Get("id"))
	}
	return n, nil
}

// decodeID reads an id that the gateway sends either as a JSON string or a
// number.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", err
		}
		return num.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected id type %s", d.Next())
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
