package catalog

import (
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/product"
)

// LoadProducts reads a JSON array of products with nested variants, the
// format of db/seed/products.json. Prices may be JSON numbers or strings.
func LoadProducts(r io.Reader) ([]product.Product, error) {
	var out []product.Product
	d := jx.Decode(r, 4096)
	if err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product #%d", len(out)+1)
		}
		if p.ID <= 0 || p.Name == "" || !p.Price.IsPositive() {
			return errors.Errorf("product %d: id, name and a positive price are required", p.ID)
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Int64()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "category":
			p.Category, err = d.Str()
		case "pix_discount":
			p.PixDiscount, err = decodeDecimal(d)
		case "image":
			p.Image, err = d.Str()
		case "variants":
			err = d.Arr(func(d *jx.Decoder) error {
				var v product.Variant
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "size":
						v.Size, err = d.Str()
					case "color":
						v.Color, err = d.Str()
					case "stock":
						v.Stock, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				p.Variants = append(p.Variants, v)
				return nil
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	for i := range p.Variants {
		p.Variants[i].ProductID = p.ID
		p.Variants[i].Stock = max(p.Variants[i].Stock, 0)
	}
	return p, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}
