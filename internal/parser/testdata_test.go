package parser

const sampleReport = `CREDIT REPORT
Name: JOHN A DOE
Address: 123 Main St,  Springfield, IL 62701
SSN: XXX-XX-1234
Date of Birth: 01/15/1980
Phone: (555) 123-4567

Experian Credit Score: 720
Score Range: 300-850
Report Date: 03/01/2024

Accounts
Creditor: Chase Bank
Account Number: ****1234
Account Type: Revolving
Status: Current
Balance: $2,500.00
Credit Limit: $5,000.00
Date Opened: 01/15/2015
Last Reported: 02/2024

Creditor: Capital One
Account Number: ****9876
Account Type: Revolving
Status: 30 Days Late
Balance: $1,200.00
Credit Limit: $1,500.00
Date Opened: 06/01/2018
Last Reported: 02/15/2024

Negative Items
Type: Collection
Creditor: ABC Collections
Amount: $450.00
Date: 2021-04-10
Status: Unverified

Inquiries
Best Buy  12/01/2023 hard
Auto Lender  11/15/2023

Public Records
None
`
