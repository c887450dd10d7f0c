package handler

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/order"
)

func decodePlaceOrder(body []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "customer":
			return decodeCustomer(d, &req.Customer)
		case "payment_method":
			return decodeString(d, &req.PaymentMethod)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.PlaceOrderRequest{}, errors.Wrap(err, "decode checkout request")
	}
	return req, nil
}

func decodeSettingValue(body []byte) (string, error) {
	var (
		value string
		found bool
	)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "value" {
			return d.Skip()
		}
		v, err := d.Str()
		value, found = v, err == nil
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "decode setting")
	}
	if !found {
		return "", errors.New("value is required")
	}
	return value, nil
}

func decodeItem(d *jx.Decoder) (order.ItemRequest, error) {
	var it order.ItemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "title":
			return decodeString(d, &it.Title)
		case "quantity":
			n, err := d.Int()
			it.Quantity = n
			return err
		case "unit_price", "price":
			v, err := decodeDecimal(d)
			it.UnitPrice = v
			return err
		case "product_id":
			n, err := d.Int64()
			it.ProductID = n
			return err
		case "size":
			return decodeString(d, &it.Size)
		case "color":
			return decodeString(d, &it.Color)
		default:
			return d.Skip()
		}
	})
	return it, err
}

func decodeCustomer(d *jx.Decoder, c *order.CustomerRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			return decodeString(d, &c.Name)
		case "email":
			return decodeString(d, &c.Email)
		case "phone":
			return decodeString(d, &c.Phone)
		case "tax_id", "cpf":
			return decodeString(d, &c.TaxID)
		case "address":
			return decodeAddress(d, &c.Address)
		default:
			return d.Skip()
		}
	})
}

func decodeAddress(d *jx.Decoder, a *order.AddressRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "street":
			return decodeString(d, &a.Street)
		case "number":
			return decodeString(d, &a.Number)
		case "complement":
			return decodeString(d, &a.Complement)
		case "neighborhood":
			return decodeString(d, &a.Neighborhood)
		case "city":
			return decodeString(d, &a.City)
		case "state":
			return decodeString(d, &a.State)
		case "zipcode", "cep":
			return decodeString(d, &a.Zipcode)
		default:
			return d.Skip()
		}
	})
}

// decodeString reads a string, treating null as empty.
func decodeString(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}

// decodeDecimal reads a price sent either as a JSON number or a string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}
