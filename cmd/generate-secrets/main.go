package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vacationrental/booking-backend/internal/utils"
	"github.com/vacationrental/booking-backend/pkg/jwt"
)

func main() {
	operator := flag.String("operator", "", "issue an operator token for this name (e.g. ops@example.com)")
	expiry := flag.Duration("expiry", 12*time.Hour, "operator token lifetime")
	secret := flag.String("secret", "", "sign the token with this OPERATOR_JWT_SECRET instead of the freshly generated one")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the booking backend")
	fmt.Println("===========================================")
	fmt.Println()

	webhookSecret, operatorSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("STRIPE_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Printf("OPERATOR_JWT_SECRET=%s\n", operatorSecret)

	if name := strings.TrimSpace(*operator); name != "" {
		signingSecret := operatorSecret
		if *secret != "" {
			signingSecret = *secret
		}
		token, err := jwt.NewService(signingSecret, *expiry).GenerateOperatorToken(name, []string{jwt.RoleOperator})
		if err != nil {
			log.Fatalf("Failed to issue operator token: %v", err)
		}
		fmt.Println()
		fmt.Printf("Operator token for %s (valid %s):\n", name, *expiry)
		fmt.Println(token)
	}

	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
